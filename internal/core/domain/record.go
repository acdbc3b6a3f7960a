package domain

import (
	"fmt"
	"time"
)

// Record is a keyed document written by bulk runs.
type Record struct {
	Namespace string            `yaml:"namespace" db:"namespace"`
	Key       string            `yaml:"key" db:"key"`
	Payload   string            `yaml:"payload" db:"payload"`
	Labels    map[string]string `yaml:"labels,omitempty" db:"-"`
	Version   int64             `yaml:"-" db:"version"`
	UpdatedAt time.Time         `yaml:"-" db:"updated_at"`
}

// ID returns the namespaced identity of the record.
func (r *Record) ID() string {
	return r.Namespace + "/" + r.Key
}

// Validate checks the fields required to store a record.
func (r *Record) Validate() error {
	if r.Namespace == "" {
		return fmt.Errorf("record %q: namespace is required", r.Key)
	}
	if r.Key == "" {
		return fmt.Errorf("record in %q: key is required", r.Namespace)
	}
	return nil
}
