package okx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var ErrBelowMinSize = errors.New("order size below instrument minimum")

// instrument is the sizing part of /api/v5/public/instruments. For SPOT
// ctVal is 1 and sizes are in base currency; for SWAP sizes are contracts.
type instrument struct {
	lotSz float64
	minSz float64
	ctVal float64
}

func instType(instID string) string {
	if strings.HasSuffix(instID, "-SWAP") {
		return "SWAP"
	}
	return "SPOT"
}

func (c *Client) instrument(ctx context.Context, instID string) (instrument, error) {
	c.instMu.Lock()
	inst, ok := c.instruments[instID]
	c.instMu.Unlock()
	if ok {
		return inst, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v5/public/instruments?instType="+instType(instID)+"&instId="+url.QueryEscape(instID), nil)
	if err != nil {
		return instrument{}, fmt.Errorf("instrument build request: %w", err)
	}
	data, err := do[struct {
		InstID string `json:"instId"`
		State  string `json:"state"`
		LotSz  string `json:"lotSz"`
		MinSz  string `json:"minSz"`
		CtVal  string `json:"ctVal"`
		CtMult string `json:"ctMult"`
	}](c, req, "instrument")
	if err != nil {
		return instrument{}, err
	}
	if len(data) == 0 {
		return instrument{}, fmt.Errorf("instrument %s not found", instID)
	}
	d := data[0]
	if d.State != "" && d.State != "live" {
		return instrument{}, fmt.Errorf("instrument %s not live: state=%s", instID, d.State)
	}

	parsePos := func(name, s string) (float64, error) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("instrument %s: %s=%q", instID, name, s)
		}
		return v, nil
	}
	if inst.lotSz, err = parsePos("lotSz", d.LotSz); err != nil {
		return instrument{}, err
	}
	if inst.minSz, err = parsePos("minSz", d.MinSz); err != nil {
		return instrument{}, err
	}
	inst.ctVal = 1
	if d.CtVal != "" {
		if inst.ctVal, err = parsePos("ctVal", d.CtVal); err != nil {
			return instrument{}, err
		}
		if m, err := strconv.ParseFloat(d.CtMult, 64); err == nil && m > 0 {
			inst.ctVal *= m
		}
	}

	c.instMu.Lock()
	c.instruments[instID] = inst
	c.instMu.Unlock()
	return inst, nil
}

// orderSize converts a base-currency amount to the instrument's sz, rounded
// down to the lot size.
func (c *Client) orderSize(ctx context.Context, instID string, amount float64) (string, error) {
	inst, err := c.instrument(ctx, instID)
	if err != nil {
		return "", err
	}
	lots := math.Floor(amount/inst.ctVal/inst.lotSz + 1e-9)
	sz := lots * inst.lotSz
	if sz < inst.minSz {
		return "", fmt.Errorf("%w: %s amount %v gives sz %v < %v", ErrBelowMinSize, instID, amount, sz, inst.minSz)
	}
	return strconv.FormatFloat(sz, 'f', decimals(inst.lotSz), 64), nil
}

func decimals(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
