package validity

import (
	"fmt"
	"time"
)

// Record is the serializable form of a Validity.
type Record struct {
	Kind       string    `json:"kind"`
	At         time.Time `json:"at,omitempty"`
	Key        string    `json:"key,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	Items      []Record  `json:"items,omitempty"`
}

// ToRecord converts a validity into its serializable form. A nil validity
// yields a nil record.
func ToRecord(v Validity) (*Record, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Never:
		return &Record{Kind: "never"}, nil
	case *Expires:
		return &Record{Kind: "expires", At: t.At}, nil
	case TimeStamp:
		return &Record{Kind: "timestamp", At: t.Modified}, nil
	case *TimeStamp:
		return &Record{Kind: "timestamp", At: t.Modified}, nil
	case *Event:
		return &Record{Kind: "event", Key: t.Key, Generation: t.Generation}, nil
	case Aggregated:
		rec := &Record{Kind: "aggregated"}
		for _, item := range t {
			r, err := ToRecord(item)
			if err != nil {
				return nil, err
			}
			if r == nil {
				return nil, fmt.Errorf("aggregated validity contains nil member")
			}
			rec.Items = append(rec.Items, *r)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("validity %T is not serializable", v)
}

// FromRecord restores a validity. Event validities are rebound to reg and
// Expires validities to clock.
func FromRecord(r *Record, reg *Registry, clock Clock) (Validity, error) {
	if r == nil {
		return nil, nil
	}
	switch r.Kind {
	case "never":
		return Never{}, nil
	case "expires":
		return &Expires{At: r.At, Clock: clock}, nil
	case "timestamp":
		return TimeStamp{Modified: r.At}, nil
	case "event":
		return &Event{Key: r.Key, Generation: r.Generation, Registry: reg}, nil
	case "aggregated":
		agg := make(Aggregated, 0, len(r.Items))
		for i := range r.Items {
			v, err := FromRecord(&r.Items[i], reg, clock)
			if err != nil {
				return nil, err
			}
			agg = append(agg, v)
		}
		return agg, nil
	}
	return nil, fmt.Errorf("unknown validity kind %q", r.Kind)
}
