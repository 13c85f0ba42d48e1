package ble

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScanForDevices enables the adapter and collects advertisements for the
// given duration or until ctx is done. Each address is reported once, with
// the first non-empty name seen for it. Advertisements rejected by keep are
// ignored; a nil keep accepts everything.
func ScanForDevices(ctx context.Context, adapter Adapter, timeout time.Duration, keep func(Advertisement) bool) ([]Advertisement, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	var found []Advertisement
	index := make(map[string]int)

	err := adapter.Scan(ctx, func(adv Advertisement) {
		if keep != nil && !keep(adv) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if i, ok := index[adv.Address]; ok {
			if found[i].Name == "" {
				found[i].Name = adv.Name
			}
			found[i].RSSI = adv.RSSI
			return
		}
		index[adv.Address] = len(found)
		found = append(found, adv)
	})
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]Advertisement, len(found))
	copy(out, found)
	return out, nil
}
