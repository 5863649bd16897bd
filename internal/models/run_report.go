package models

import (
	"sort"
	"time"
)

// RecordKind names the local entity kinds a run writes.
type RecordKind string

// Local entity kinds.
const (
	RecordGradStudent RecordKind = "grad_student"
	RecordStatus      RecordKind = "status"
	RecordProgram     RecordKind = "program_history"
	RecordSupervisor  RecordKind = "supervisor"
	RecordPerson      RecordKind = "person"
	RecordMetadata    RecordKind = "metadata"
)

// PersonFailure is a person whose changes were rolled back.
type PersonFailure struct {
	EmplID string `json:"emplid"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// RunReport summarises one reconciliation run.
type RunReport struct {
	RunID            string             `json:"run_id"`
	DryRun           bool               `json:"dry_run"`
	StartedAt        time.Time          `json:"started_at"`
	FinishedAt       time.Time          `json:"finished_at"`
	Persons          int                `json:"persons"`
	Succeeded        int                `json:"succeeded"`
	Skipped          int                `json:"skipped"`
	Failures         []PersonFailure    `json:"failures,omitempty"`
	CareersCreated   int                `json:"careers_created"`
	CareersMatched   int                `json:"careers_matched"`
	CareersAbandoned int                `json:"careers_abandoned"`
	Dropped          int                `json:"dropped"`
	Created          map[RecordKind]int `json:"created"`
	Updated          map[RecordKind]int `json:"updated"`
	Warnings         []string           `json:"warnings,omitempty"`
	Aborted          string             `json:"aborted,omitempty"`
}

// NewRunReport returns an empty report.
func NewRunReport(runID string, dryRun bool, started time.Time) *RunReport {
	return &RunReport{
		RunID:     runID,
		DryRun:    dryRun,
		StartedAt: started,
		Created:   map[RecordKind]int{},
		Updated:   map[RecordKind]int{},
	}
}

// Failed reports whether the run aborted or any person was rolled back.
func (r *RunReport) Failed() bool {
	return r.Aborted != "" || len(r.Failures) > 0
}

// SortFailures orders failures by student number for stable output.
func (r *RunReport) SortFailures() {
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].EmplID < r.Failures[j].EmplID })
}
