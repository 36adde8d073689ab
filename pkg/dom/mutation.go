package dom

import "fmt"

// RecordType identifies the category of a mutation record.
type RecordType uint8

// Mutation categories.
const (
	ChildList RecordType = iota + 1
	CharacterData
	Attributes
)

func (t RecordType) String() string {
	switch t {
	case ChildList:
		return "childList"
	case CharacterData:
		return "characterData"
	case Attributes:
		return "attributes"
	default:
		return "unknown"
	}
}

// DefaultMaxPending bounds the records an observer holds between checkpoints.
const DefaultMaxPending = 1024

// Record describes one mutation. Records are never modified after creation.
type Record struct {
	Type          RecordType
	Target        *Node
	Added         []*Node
	Removed       []*Node
	AttributeName string
	OldValue      string
}

// Batch is the set of records delivered to an observer in one callback.
// Overflow is set when records were dropped because the observer queue was full.
type Batch struct {
	Records  []Record
	Overflow bool
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// Empty reports whether the batch carries nothing to act on.
func (b Batch) Empty() bool { return len(b.Records) == 0 && !b.Overflow }

// ObserveOptions selects the mutation categories an observer receives.
type ObserveOptions struct {
	ChildList     bool
	CharacterData bool
	Attributes    bool
	Subtree       bool
	// MaxPending bounds the queue between checkpoints; zero uses DefaultMaxPending.
	MaxPending int
}

// Observer receives mutation batches for a target node.
type Observer struct {
	doc       *Document
	target    *Node
	opts      ObserveOptions
	callback  func(Batch)
	pending   []Record
	overflow  bool
	connected bool
}

// Observe registers callback for mutations of target.
func (d *Document) Observe(target *Node, opts ObserveOptions, callback func(Batch)) (*Observer, error) {
	if target == nil || callback == nil {
		return nil, fmt.Errorf("%w: target and callback are required", ErrInvalidOptions)
	}
	if target.doc != d {
		return nil, ErrWrongDocument
	}
	if !opts.ChildList && !opts.CharacterData && !opts.Attributes {
		return nil, fmt.Errorf("%w: no mutation category selected", ErrInvalidOptions)
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}

	o := &Observer{
		doc:       d,
		target:    target,
		opts:      opts,
		callback:  callback,
		connected: true,
	}
	d.observers = append(d.observers, o)
	return o, nil
}

// Target returns the observed node.
func (o *Observer) Target() *Node { return o.target }

// TakeRecords empties the observer queue and returns its contents.
func (o *Observer) TakeRecords() Batch {
	b := Batch{Records: o.pending, Overflow: o.overflow}
	o.pending = nil
	o.overflow = false
	return b
}

// Disconnect stops delivery and discards queued records.
func (o *Observer) Disconnect() {
	if !o.connected {
		return
	}
	o.connected = false
	o.pending = nil
	o.overflow = false

	observers := o.doc.observers[:0]
	for _, other := range o.doc.observers {
		if other != o {
			observers = append(observers, other)
		}
	}
	o.doc.observers = observers
}

func (o *Observer) matches(rec Record) bool {
	switch rec.Type {
	case ChildList:
		if !o.opts.ChildList {
			return false
		}
	case CharacterData:
		if !o.opts.CharacterData {
			return false
		}
	case Attributes:
		if !o.opts.Attributes {
			return false
		}
	}
	if rec.Target == o.target {
		return true
	}
	return o.opts.Subtree && o.target.Contains(rec.Target)
}

func (o *Observer) enqueue(rec Record) {
	if len(o.pending) >= o.opts.MaxPending {
		o.overflow = true
		return
	}
	o.pending = append(o.pending, rec)
}

func (d *Document) record(rec Record) {
	for _, o := range d.observers {
		if o.matches(rec) {
			o.enqueue(rec)
		}
	}
}

// Pending reports whether any observer has undelivered records.
func (d *Document) Pending() bool {
	for _, o := range d.observers {
		if len(o.pending) > 0 || o.overflow {
			return true
		}
	}
	return false
}

// Checkpoint delivers each observer's queued records as one batch and
// reports whether any callback ran. Mutations made by callbacks are queued
// for the next checkpoint.
func (d *Document) Checkpoint() bool {
	if len(d.observers) == 0 {
		return false
	}
	observers := make([]*Observer, len(d.observers))
	copy(observers, d.observers)

	delivered := false
	for _, o := range observers {
		if !o.connected {
			continue
		}
		batch := o.TakeRecords()
		if batch.Empty() {
			continue
		}
		delivered = true
		o.callback(batch)
	}
	return delivered
}
