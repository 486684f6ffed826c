package jfrogclient

import (
	"context"
	"fmt"

	"wincore.dev/engine/model"
)

const maxProbeStep = 1024

// LatestFor discovers the newest published build for a tuple: an
// exponential probe on sequence number within a date, a binary search to
// pin down the exact boundary once a miss is seen, and a rollback to
// earlier dates (up to maxLookbackDays) if today has no builds at all.
//
// hint is the coordinate already recorded in tracking, if any; its
// sequence number seeds the probe so a tuple polled every few minutes
// doesn't re-walk sequence 1..N from scratch.
func (c *Client) LatestFor(ctx context.Context, comp model.Component, branch model.Branch, hint model.BuildCoordinate, maxLookbackDays int) (model.BuildCoordinate, bool, error) {
	date := c.clock.Now().Format("20060102")
	for day := 0; day < maxLookbackDays; day++ {
		startSeq := 1
		if date == hint.Date {
			startSeq = hint.Sequence + 1
		}
		coord, found, err := c.probeDate(ctx, comp, branch, date, startSeq)
		if err != nil {
			return model.BuildCoordinate{}, false, err
		}
		if found {
			return coord, true, nil
		}
		date = previousDate(date)
	}
	return model.BuildCoordinate{}, false, nil
}

// probeDate finds the largest existing sequence number for one date,
// starting the exponential walk at startSeq.
func (c *Client) probeDate(ctx context.Context, comp model.Component, branch model.Branch, date string, startSeq int) (model.BuildCoordinate, bool, error) {
	if startSeq < 1 {
		startSeq = 1
	}

	exists, err := c.existsAt(ctx, comp, branch, date, startSeq)
	if err != nil {
		return model.BuildCoordinate{}, false, err
	}
	if !exists {
		if startSeq == 1 {
			return model.BuildCoordinate{}, false, nil
		}
		// The hinted next sequence doesn't exist yet; the hint itself
		// (startSeq-1) is still the latest for this date.
		return model.BuildCoordinate{Date: date, Sequence: startSeq - 1}, true, nil
	}

	lastHit := startSeq
	step := 1
	probe := startSeq
	for {
		next := probe + step
		exists, err := c.existsAt(ctx, comp, branch, date, next)
		if err != nil {
			return model.BuildCoordinate{}, false, err
		}
		if !exists {
			best, err := c.binarySearch(ctx, comp, branch, date, lastHit, next)
			if err != nil {
				return model.BuildCoordinate{}, false, err
			}
			return model.BuildCoordinate{Date: date, Sequence: best}, true, nil
		}
		lastHit = next
		probe = next
		if step < maxProbeStep {
			step *= 2
		}
	}
}

// binarySearch finds the largest existing sequence in (lo, hi) given that
// lo exists and hi does not.
func (c *Client) binarySearch(ctx context.Context, comp model.Component, branch model.Branch, date string, lo, hi int) (int, error) {
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		exists, err := c.existsAt(ctx, comp, branch, date, mid)
		if err != nil {
			return 0, err
		}
		if exists {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}

func (c *Client) existsAt(ctx context.Context, comp model.Component, branch model.Branch, date string, seq int) (bool, error) {
	coord := model.BuildCoordinate{Date: date, Sequence: seq}
	artifactURL, err := c.BuildURL(comp, branch, coord)
	if err != nil {
		return false, err
	}
	return c.Exists(ctx, artifactURL)
}

// previousDate decrements a YYYYMMDD string by one calendar day.
func previousDate(date string) string {
	var y, m, d int
	if _, err := fmt.Sscanf(date, "%4d%2d%2d", &y, &m, &d); err != nil {
		return date
	}
	t := dateFromYMD(y, m, d).AddDate(0, 0, -1)
	return t.Format("20060102")
}
