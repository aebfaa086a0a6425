// Package submitter drains staged submissions to the chain in per-device
// batches, on a daily schedule and on demand.
package submitter

import (
	"context"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/robfig/cron/v3"

	"github.com/trustoracle/gateway/chain"
	"github.com/trustoracle/gateway/metrics"
	"github.com/trustoracle/gateway/store"
	"github.com/trustoracle/gateway/types"
)

// Schedule is the daily batch window, chosen for low device traffic.
const Schedule = "0 2 * * *"

// DefaultSubmitTimeout bounds each per-device chain call.
const DefaultSubmitTimeout = 30 * time.Second

// DeviceResult is the outcome of one device's batch within a run.
type DeviceResult struct {
	DeviceID string `json:"device_id"`
	Records  int    `json:"records"`
	Steps    uint64 `json:"steps"`
	TxHandle string `json:"tx_handle,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Summary reports one submitter run.
type Summary struct {
	StartedAt        time.Time      `json:"started_at"`
	Duration         time.Duration  `json:"duration"`
	Pending          int            `json:"pending"`
	SubmittedRecords int            `json:"submitted_records"`
	SubmittedSteps   uint64         `json:"submitted_steps"`
	Devices          []DeviceResult `json:"devices"`
}

// Submitter owns the batch schedule. Run may also be invoked manually; a
// mutex keeps scheduled and manual runs from overlapping.
type Submitter struct {
	store   store.Store
	chain   chain.Gateway
	metrics *metrics.Metrics
	logger  log.Logger

	submitTimeout time.Duration
	cron          *cron.Cron
	runMu         sync.Mutex
}

// New wires the submitter. A zero submitTimeout selects DefaultSubmitTimeout.
func New(s store.Store, g chain.Gateway, m *metrics.Metrics, logger log.Logger, submitTimeout time.Duration) *Submitter {
	if submitTimeout <= 0 {
		submitTimeout = DefaultSubmitTimeout
	}
	return &Submitter{
		store:         s,
		chain:         g,
		metrics:       m,
		logger:        logger.With("module", "submitter"),
		submitTimeout: submitTimeout,
	}
}

// Start installs the daily schedule. No-op when chain submission is
// disabled; staged records then stay pending until a gateway is configured.
func (sub *Submitter) Start() error {
	if !sub.chain.Enabled() {
		sub.logger.Info("chain submission disabled, batch schedule not started")
		return nil
	}
	sub.cron = cron.New()
	_, err := sub.cron.AddFunc(Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := sub.Run(ctx); err != nil {
			sub.logger.Error("scheduled batch run failed", "err", err)
		}
	})
	if err != nil {
		return err
	}
	sub.cron.Start()
	sub.logger.Info("batch schedule started", "spec", Schedule)
	return nil
}

// Stop halts the schedule and waits for an in-flight scheduled run.
func (sub *Submitter) Stop() {
	if sub.cron != nil {
		<-sub.cron.Stop().Done()
	}
}

// Run executes one batch pass: group pending records by device, submit one
// aggregated transaction per device, and mark the device's records submitted
// on success. A failing device never blocks the others; its records stay
// pending for the next run.
func (sub *Submitter) Run(ctx context.Context) (*Summary, error) {
	sub.runMu.Lock()
	defer sub.runMu.Unlock()

	start := time.Now()
	sub.metrics.BatchRuns.Inc()

	pending, err := sub.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	summary := &Summary{StartedAt: start, Pending: len(pending)}
	if len(pending) == 0 {
		summary.Duration = time.Since(start)
		sub.logger.Info("batch run: nothing pending")
		return summary, nil
	}

	// Group by device, preserving receive order within each group and
	// first-seen order across groups.
	byDevice := make(map[string][]*types.Submission)
	var order []string
	for _, rec := range pending {
		if _, seen := byDevice[rec.DeviceID]; !seen {
			order = append(order, rec.DeviceID)
		}
		byDevice[rec.DeviceID] = append(byDevice[rec.DeviceID], rec)
	}

	for _, deviceID := range order {
		res := sub.submitDevice(ctx, deviceID, byDevice[deviceID])
		summary.Devices = append(summary.Devices, res)
		if res.Error == "" && !res.Skipped {
			summary.SubmittedRecords += res.Records
			summary.SubmittedSteps += res.Steps
		}
	}

	summary.Duration = time.Since(start)
	sub.logger.Info("batch run complete",
		"pending", summary.Pending,
		"submitted", summary.SubmittedRecords,
		"steps", summary.SubmittedSteps,
		"devices", len(summary.Devices),
		"took", summary.Duration)
	return summary, nil
}

func (sub *Submitter) submitDevice(ctx context.Context, deviceID string, recs []*types.Submission) DeviceResult {
	res := DeviceResult{DeviceID: deviceID, Records: len(recs)}
	for _, rec := range recs {
		res.Steps += uint64(rec.StepCount)
	}

	dev, err := sub.store.Device(ctx, deviceID)
	if err != nil {
		res.Error = err.Error()
		sub.logger.Error("batch device lookup failed", "device", deviceID, "err", err)
		return res
	}
	if dev.ChainDeviceHandle == "" {
		// Not registered on chain yet; records stay pending.
		res.Skipped = true
		sub.logger.Info("batch skipping device without chain handle", "device", deviceID, "records", len(recs))
		return res
	}

	timestamps := make([]int64, len(recs))
	signatures := make([][]byte, len(recs))
	for i, rec := range recs {
		timestamps[i] = rec.Timestamp
		signatures[i] = rec.Signature
	}

	callCtx, cancel := context.WithTimeout(ctx, sub.submitTimeout)
	defer cancel()
	out, err := sub.chain.SubmitStepData(callCtx, dev.ChainDeviceHandle, res.Steps, timestamps, signatures)
	if err != nil {
		sub.metrics.ChainCalls.WithLabelValues("submit_step_data", "error").Inc()
		res.Error = err.Error()
		sub.logger.Error("batch submission failed", "device", deviceID, "records", len(recs), "err", err)
		return res
	}
	sub.metrics.ChainCalls.WithLabelValues("submit_step_data", "ok").Inc()

	ids := make([]uint64, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	if err := sub.store.MarkSubmitted(ctx, ids, out.TxHandle); err != nil {
		// The chain accepted the batch but the local flip failed; the next
		// run will resubmit. Surfaced loudly because it means duplicate
		// on-chain data until resolved.
		res.Error = "mark submitted: " + err.Error()
		sub.logger.Error("marking records submitted failed", "device", deviceID, "tx", out.TxHandle, "err", err)
		return res
	}

	sub.metrics.BatchRecords.Add(float64(len(recs)))
	res.TxHandle = out.TxHandle
	sub.logger.Info("batch submitted", "device", deviceID, "records", len(recs), "steps", res.Steps, "tx", out.TxHandle)
	return res
}
