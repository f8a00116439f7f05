package sim

import (
	"github.com/iggydv12/hubsim/internal/timeline"
)

// Report summarises a run.
type Report struct {
	RunID              string  `json:"runId"`
	Seed               int64   `json:"seed"`
	Ticks              int64   `json:"ticks"`
	NodeCount          int     `json:"nodeCount"`
	LiveNodes          int     `json:"liveNodes"`
	TotalSent          uint64  `json:"totalSent"`
	TotalDelivered     uint64  `json:"totalDelivered"`
	LossRate           float64 `json:"lossRate"`
	LossThreshold      float64 `json:"lossThreshold"`
	SplitBrainDetected bool    `json:"splitBrainDetected"`
	Pass               bool    `json:"pass"`
	Hub                string  `json:"hub,omitempty"`
	Elections          uint64  `json:"elections"`
	Demotions          uint64  `json:"demotions"`
	ChurnEvents        uint64  `json:"churnEvents"`
	PendingDropped     uint64  `json:"pendingDropped"`
	TransportDropped   uint64  `json:"transportDropped"`
	Unroutable         uint64  `json:"unroutable"`
	Violation          string  `json:"violation,omitempty"`
}

// Result is the report plus the per-tick timeline of a run.
type Result struct {
	Report  Report            `json:"report"`
	Records []timeline.Record `json:"records,omitempty"`
}

// LossRate is the share of expected deliveries that never happened: every
// originated message should reach the nodeCount-1 other peers.
func LossRate(sent, delivered uint64, nodeCount int) float64 {
	if sent == 0 || nodeCount < 2 {
		return 0
	}
	expected := float64(sent) * float64(nodeCount-1)
	return 1 - float64(delivered)/expected
}

// Result builds the report for the ticks run so far.
func (d *Driver) Result() *Result {
	totals := d.totals()
	loss := LossRate(totals.Originated, totals.Delivered, d.cfg.NodeCount)
	hub, _ := d.auth.CurrentHolder()
	r := Report{
		RunID:              d.runID,
		Seed:               d.cfg.Seed,
		Ticks:              d.now,
		NodeCount:          d.cfg.NodeCount,
		LiveNodes:          len(d.order),
		TotalSent:          totals.Originated,
		TotalDelivered:     totals.Delivered,
		LossRate:           loss,
		LossThreshold:      d.cfg.LossThreshold,
		SplitBrainDetected: d.splitBrain,
		Pass:               loss <= d.cfg.LossThreshold && !d.splitBrain && d.violation == nil,
		Hub:                string(hub),
		Elections:          totals.Elections,
		Demotions:          totals.Demotions,
		ChurnEvents:        d.churns,
		PendingDropped:     totals.PendingDropped,
		TransportDropped:   d.net.Stats().Dropped,
		Unroutable:         d.unroutable,
	}
	if d.violation != nil {
		r.Violation = d.violation.Error()
	}
	return &Result{Report: r, Records: d.Records()}
}
