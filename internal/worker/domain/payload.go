package domain

import "strings"

// ValidationOutcome is the result-or-error of one validation task
type ValidationOutcome struct {
	Type   ValidationType
	Fields map[string]string
	Err    error
}

// OK reports whether the validation produced a result
func (o ValidationOutcome) OK() bool {
	return o.Err == nil
}

// Record converts the outcome into its persisted form
func (o ValidationOutcome) Record() ValidationRecord {
	if o.Err != nil {
		return ValidationRecord{Error: o.Err.Error()}
	}
	return ValidationRecord{Fields: o.Fields}
}

// BuildOutput merges successful outcomes into the sparse field map sent to the CRM.
// Failed outcomes and blank values are left out.
func BuildOutput(outcomes []ValidationOutcome) map[string]string {
	out := make(map[string]string)
	for _, o := range outcomes {
		if !o.OK() {
			continue
		}
		for k, v := range o.Fields {
			k = strings.TrimSpace(k)
			v = strings.TrimSpace(v)
			if k == "" || v == "" {
				continue
			}
			out[k] = v
		}
	}
	return out
}

// Records converts outcomes into the per-type map persisted on the item
func Records(outcomes []ValidationOutcome) map[ValidationType]ValidationRecord {
	records := make(map[ValidationType]ValidationRecord, len(outcomes))
	for _, o := range outcomes {
		records[o.Type] = o.Record()
	}
	return records
}
