// Package rlimit parses "resource.high"/"resource.max" limit pairs and
// applies them to the calling process via getrlimit/setrlimit. It is
// only ever called from a process about to exec a child (the
// bwrap-child re-exec helper, or the supervisor itself in
// direct-passthrough mode), never from the long-lived supervisor.
package rlimit

import (
	"strings"

	"golang.org/x/sys/unix"

	"github.com/sandboxrun/bwrapbox/pkg/errors"
)

// resourceTable is the immutable name -> kernel resource id mapping.
// The order matches Linux's own RLIMIT_* numbering, which
// golang.org/x/sys/unix exposes directly.
var resourceTable = map[string]int{
	"cpu":        unix.RLIMIT_CPU,
	"fsize":      unix.RLIMIT_FSIZE,
	"data":       unix.RLIMIT_DATA,
	"stack":      unix.RLIMIT_STACK,
	"core":       unix.RLIMIT_CORE,
	"rss":        unix.RLIMIT_RSS,
	"nproc":      unix.RLIMIT_NPROC,
	"nofile":     unix.RLIMIT_NOFILE,
	"memlock":    unix.RLIMIT_MEMLOCK,
	"as":         unix.RLIMIT_AS,
	"locks":      unix.RLIMIT_LOCKS,
	"sigpending": unix.RLIMIT_SIGPENDING,
	"msgqueue":   unix.RLIMIT_MSGQUEUE,
	"nice":       unix.RLIMIT_NICE,
	"rtprio":     unix.RLIMIT_RTPRIO,
	"rttime":     unix.RLIMIT_RTTIME,
}

// Field distinguishes the soft ("high") from the hard ("max") limit.
type Field int

const (
	FieldHigh Field = iota // rlim_cur
	FieldMax               // rlim_max
)

// Pair is a single "resource.field value" rlimit setting, as produced
// by parsing one --rlimit NAME VALUE flag.
type Pair struct {
	Resource string
	Field    Field
	Value    uint64
}

// ParseName splits "resource.high" or "resource.max" into its resource
// id and field, rejecting anything else.
func ParseName(name string) (resourceID int, field Field, err error) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return 0, 0, errors.NewValidationError("rlimit name must be RESOURCE.high or RESOURCE.max", nil).WithContext("name", name)
	}
	resource, suffix := name[:dot], name[dot+1:]

	id, ok := resourceTable[resource]
	if !ok {
		return 0, 0, errors.NewValidationError("unknown rlimit resource", nil).WithContext("resource", resource)
	}

	switch suffix {
	case "high":
		return id, FieldHigh, nil
	case "max":
		return id, FieldMax, nil
	default:
		return 0, 0, errors.NewValidationError("rlimit field must be 'high' or 'max'", nil).WithContext("field", suffix)
	}
}

// Apply applies pairs to the calling process in the order given. Each
// pair is applied with getrlimit-then-setrlimit so that the field not
// being touched is preserved; setting .max additionally clamps .cur
// down to the new hard limit if it would otherwise exceed it. The
// first failure is fatal and returned immediately.
func Apply(pairs []Pair) error {
	for _, p := range pairs {
		resourceID, ok := resourceTable[p.Resource]
		if !ok {
			return errors.NewValidationError("unknown rlimit resource", nil).WithContext("resource", p.Resource)
		}

		var rlim unix.Rlimit
		if err := unix.Getrlimit(resourceID, &rlim); err != nil {
			return errors.NewInternalError("getrlimit failed", err).WithContext("resource", p.Resource)
		}

		switch p.Field {
		case FieldHigh:
			rlim.Cur = p.Value
		case FieldMax:
			rlim.Max = p.Value
			if rlim.Cur > rlim.Max {
				rlim.Cur = rlim.Max
			}
		}

		if err := unix.Setrlimit(resourceID, &rlim); err != nil {
			return errors.NewInternalError("setrlimit failed", err).WithContext("resource", p.Resource).WithContext("field", p.Field)
		}
	}
	return nil
}

// ParsePair parses a raw "name" + "value" pair as given on the
// --rlimit command line into a Pair ready for Apply.
func ParsePair(name string, value uint64) (Pair, error) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return Pair{}, errors.NewValidationError("rlimit name must be RESOURCE.high or RESOURCE.max", nil).WithContext("name", name)
	}
	resource, suffix := name[:dot], name[dot+1:]
	if _, ok := resourceTable[resource]; !ok {
		return Pair{}, errors.NewValidationError("unknown rlimit resource", nil).WithContext("resource", resource)
	}
	var field Field
	switch suffix {
	case "high":
		field = FieldHigh
	case "max":
		field = FieldMax
	default:
		return Pair{}, errors.NewValidationError("rlimit field must be 'high' or 'max'", nil).WithContext("field", suffix)
	}
	return Pair{Resource: resource, Field: field, Value: value}, nil
}
