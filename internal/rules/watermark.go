package rules

import (
	"context"
	"fmt"
	"strconv"

	"acgn_relay/internal/storage"
)

// Watermark is the unix timestamp up to which posts have been dispatched.
type Watermark struct {
	kv storage.KV
}

// NewWatermark creates a Watermark stored in kv under WatermarkKey.
func NewWatermark(kv storage.KV) *Watermark {
	return &Watermark{kv: kv}
}

// Load returns the stored timestamp. ok is false before the first dispatch.
func (w *Watermark) Load(ctx context.Context) (ts int64, ok bool, err error) {
	raw, ok, err := w.kv.Get(ctx, WatermarkKey)
	if err != nil {
		return 0, false, fmt.Errorf("load watermark: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	ts, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse watermark %q: %w", raw, err)
	}
	return ts, true, nil
}

// Save overwrites the stored timestamp.
func (w *Watermark) Save(ctx context.Context, ts int64) error {
	if err := w.kv.Put(ctx, WatermarkKey, strconv.FormatInt(ts, 10)); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}
