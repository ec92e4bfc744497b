package lease

import (
	"slices"

	"github.com/bryanchriswhite/focushist/internal/scope"
)

// Ownership is one holder's resolved view of the registry.
//
// An output belongs to whoever holds the newest row among the output's own
// row and the "all outputs" row.
type Ownership struct {
	Holder string

	all        bool
	held       map[string]bool
	lostTo     map[string]string
	superseded []string
}

// Resolve computes what holder owns out of the tokens it claimed
func Resolve(rows []Lease, holder string, claimed []string) Ownership {
	o := Ownership{
		Holder: holder,
		held:   make(map[string]bool),
		lostTo: make(map[string]string),
	}

	byOutput := make(map[string]Lease, len(rows))
	var allRow *Lease
	for i := range rows {
		if rows[i].OutputID == scope.AllOutputs {
			allRow = &rows[i]
			continue
		}
		byOutput[rows[i].OutputID] = rows[i]
	}

	for _, token := range claimed {
		if token == scope.AllOutputs {
			if allRow == nil || allRow.Holder != holder {
				o.superseded = append(o.superseded, token)
				continue
			}
			o.all = true
			for id, row := range byOutput {
				if row.Holder != holder && row.Epoch > allRow.Epoch {
					o.lostTo[id] = row.Holder
				}
			}
			continue
		}

		row, ok := byOutput[token]
		if !ok || row.Holder != holder {
			o.superseded = append(o.superseded, token)
			continue
		}
		if allRow != nil && allRow.Holder != holder && allRow.Epoch > row.Epoch {
			o.superseded = append(o.superseded, token)
			continue
		}
		o.held[token] = true
	}

	slices.Sort(o.superseded)
	return o
}

// Owns reports whether the holder may act on output
func (o Ownership) Owns(output string) bool {
	if o.held[output] {
		return true
	}
	if o.all {
		_, lost := o.lostTo[output]
		return !lost
	}
	return false
}

// Lost reports whether nothing the holder claimed is still held
func (o Ownership) Lost() bool {
	return !o.all && len(o.held) == 0
}

// Held returns the tokens still held, sorted
func (o Ownership) Held() []string {
	out := make([]string, 0, len(o.held)+1)
	if o.all {
		out = append(out, scope.AllOutputs)
	}
	for id := range o.held {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Superseded returns the claimed tokens now held by another instance, sorted
func (o Ownership) Superseded() []string {
	return slices.Clone(o.superseded)
}

// Carved returns outputs taken out of an "all outputs" claim by newer instances, sorted
func (o Ownership) Carved() []string {
	out := make([]string, 0, len(o.lostTo))
	for id := range o.lostTo {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
