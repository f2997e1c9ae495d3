package deploy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPReadyCheck probes GET <base>/ready for the slot being switched to.
// Slots without a configured base URL fail the check.
func HTTPReadyCheck(client *http.Client, baseURLs map[Slot]string) HealthCheck {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, slot Slot, _ string) error {
		base, ok := baseURLs[slot]
		if !ok || base == "" {
			return fmt.Errorf("no address configured for slot %s", slot)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/ready", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("slot %s not ready: HTTP %d", slot, resp.StatusCode)
		}
		return nil
	}
}
