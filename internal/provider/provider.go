package provider

import (
	"context"
	"fmt"
	"strings"
)

// Repository is the narrow view of a DNS provider the reconcile engine needs.
type Repository interface {
	ListZones(ctx context.Context) ([]Zone, error)
	ListRecords(ctx context.Context, zoneID string) ([]Record, error)
	UpdateRecord(ctx context.Context, zoneID, recordID, content, name, recordType string) (Record, error)
}

type Zone struct {
	ID   string
	Name string
}

type Record struct {
	ID      string
	ZoneID  string
	Name    string
	Type    string
	Content string
	Locked  bool
	Comment string
	Tags    []string
	TTL     int
	Proxied bool
}

// Error is a failure reported by the provider, or a failure to talk to it.
// Codes and Messages hold the provider's own error entries when it returned any.
type Error struct {
	Op       string
	Codes    []int
	Messages []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		for i, msg := range e.Messages {
			if i > 0 {
				b.WriteString("; ")
			}
			if i < len(e.Codes) {
				fmt.Fprintf(&b, "%s (code %d)", msg, e.Codes[i])
			} else {
				b.WriteString(msg)
			}
		}
		return b.String()
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
