package types

// Result is the outcome of one update cycle.
type Result struct {
	Success   []Package
	Failed    []Package
	Untouched []Package

	// SyncErr is set when publishing failed.  It never changes the
	// build outcome of any package.
	SyncErr error
}

// AddSuccess records a built package, replacing an earlier failure
// of the same base if one was recorded.
func (r *Result) AddSuccess(p Package) {
	r.Failed = without(r.Failed, p.Base)
	r.Success = append(without(r.Success, p.Base), p)
}

// AddFailed records a failed package.
func (r *Result) AddFailed(p Package) {
	r.Success = without(r.Success, p.Base)
	r.Failed = append(without(r.Failed, p.Base), p)
}

// AddUntouched records a candidate that was never attempted.
func (r *Result) AddUntouched(p Package) {
	r.Untouched = append(without(r.Untouched, p.Base), p)
}

// Merge folds another result into this one.
func (r *Result) Merge(o Result) {
	for _, p := range o.Success {
		r.AddSuccess(p)
	}
	for _, p := range o.Failed {
		r.AddFailed(p)
	}
	for _, p := range o.Untouched {
		r.AddUntouched(p)
	}
	if o.SyncErr != nil {
		r.SyncErr = o.SyncErr
	}
}

// IsEmpty reports whether nothing was built or attempted.
func (r Result) IsEmpty() bool {
	return len(r.Success) == 0 && len(r.Failed) == 0
}

func without(list []Package, base string) []Package {
	out := list[:0]
	for _, p := range list {
		if p.Base != base {
			out = append(out, p)
		}
	}
	return out
}
