package rpc

import (
	"context"
	"database/sql"

	"github.com/beegfs-io/mgmtd/pkg/quota"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

type QuotaLimitEntry struct {
	QuotaID uint32 `json:"quota_id"`
	Value   uint64 `json:"value"`
}

type SetQuotaRequest struct {
	PoolID    uint16            `json:"pool_id"`
	IDType    string            `json:"id_type"`
	QuotaType string            `json:"quota_type"`
	Limits    []QuotaLimitEntry `json:"limits"`
}

type SetQuotaResponse struct{}

// SetQuota installs a batch of per-id quota limit overrides, the
// structured-surface counterpart to the legacy SetQuota message.
func (s *Service) SetQuota(ctx context.Context, req *SetQuotaRequest) (*SetQuotaResponse, error) {
	idType := types.IDType(req.IDType)
	quotaType := types.QuotaType(req.QuotaType)
	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		for _, l := range req.Limits {
			if err := store.SetQuotaLimit(tx, types.QuotaLimit{
				QuotaID: l.QuotaID, IDType: idType, Type: quotaType, PoolID: req.PoolID, Value: l.Value,
			}); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}
	return &SetQuotaResponse{}, nil
}

type SetDefaultQuotaRequest struct {
	PoolID    uint16 `json:"pool_id"`
	IDType    string `json:"id_type"`
	QuotaType string `json:"quota_type"`
	Value     uint64 `json:"value"`
}

type SetDefaultQuotaResponse struct{}

// SetDefaultQuota installs the pool-wide fallback limit.
func (s *Service) SetDefaultQuota(ctx context.Context, req *SetDefaultQuotaRequest) (*SetDefaultQuotaResponse, error) {
	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, store.SetDefaultQuotaLimit(tx, types.QuotaDefaultLimit{
			PoolID: req.PoolID, IDType: types.IDType(req.IDType), Type: types.QuotaType(req.QuotaType), Value: req.Value,
		})
	})
	if err != nil {
		return nil, err
	}
	return &SetDefaultQuotaResponse{}, nil
}

// quotaPageSize bounds how many rows a single page fetch pulls from C4
// inside one re-entered read transaction, the paging granularity the
// streaming endpoints advance by.
const quotaPageSize = 256

// streamChanBuffer is the bounded buffer a paged stream pushes pages
// into; a closed receiver (send failure, or the stream's context done)
// is treated as non-error cancellation, never logged as a fault.
const streamChanBuffer = 4

type StreamQuotaLimitsRequest struct {
	PoolID       uint16   `json:"pool_id"`
	IDType       string   `json:"id_type"`
	QuotaType    string   `json:"quota_type"`
	IDRangeStart uint32   `json:"id_range_start,omitempty"`
	IDRangeEnd   uint32   `json:"id_range_end,omitempty"`
	IDList       []uint32 `json:"id_list,omitempty"`
	ExceededOnly bool     `json:"exceeded_only,omitempty"`
}

type QuotaLimitPage struct {
	Limits []types.QuotaLimit `json:"limits"`
}

// StreamQuotaLimits pages through quota limits matching the request's
// filters, one fixed-size page per read transaction, pushed through a
// bounded channel so a slow receiver applies backpressure rather than
// this handler materializing the whole result set in memory.
func (s *Service) StreamQuotaLimits(ctx context.Context, req *StreamQuotaLimitsRequest, send func(*QuotaLimitPage) error) error {
	idType := types.IDType(req.IDType)
	quotaType := types.QuotaType(req.QuotaType)
	allowed := idSetFilter(req.IDList)

	var exceeded map[uint32]bool
	if req.ExceededOnly {
		var err error
		exceeded, err = exceededSet(ctx, s, req.PoolID, idType, quotaType)
		if err != nil {
			return err
		}
	}

	type msg struct {
		page []types.QuotaLimit
		err  error
	}
	ch := make(chan msg, streamChanBuffer)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(ch)
		afterID := req.IDRangeStart
		for {
			page, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) ([]types.QuotaLimit, error) {
				return store.ListQuotaLimitsPage(tx, req.PoolID, idType, quotaType, afterID, quotaPageSize)
			})
			if err != nil {
				select {
				case ch <- msg{err: err}:
				case <-done:
				}
				return
			}
			if len(page) == 0 {
				return
			}
			select {
			case ch <- msg{page: page}:
			case <-done:
				return
			}
			afterID = page[len(page)-1].QuotaID
			if len(page) < quotaPageSize {
				return
			}
		}
	}()

	for m := range ch {
		if m.err != nil {
			return m.err
		}
		filtered := m.page[:0]
		pastRangeEnd := false
		for _, l := range m.page {
			if req.IDRangeEnd != 0 && l.QuotaID > req.IDRangeEnd {
				pastRangeEnd = true
				break
			}
			if allowed != nil && !allowed[l.QuotaID] {
				continue
			}
			if exceeded != nil && !exceeded[l.QuotaID] {
				continue
			}
			filtered = append(filtered, l)
		}
		if len(filtered) > 0 {
			if err := send(&QuotaLimitPage{Limits: filtered}); err != nil {
				return nil
			}
		}
		if pastRangeEnd {
			return nil
		}
	}
	return nil
}

type StreamQuotaUsageRequest struct {
	PoolID       uint16   `json:"pool_id"`
	IDType       string   `json:"id_type"`
	QuotaType    string   `json:"quota_type"`
	IDRangeStart uint32   `json:"id_range_start,omitempty"`
	IDRangeEnd   uint32   `json:"id_range_end,omitempty"`
	IDList       []uint32 `json:"id_list,omitempty"`
	ExceededOnly bool     `json:"exceeded_only,omitempty"`
}

type QuotaUsagePage struct {
	Usage []types.QuotaUsage `json:"usage"`
}

// StreamQuotaUsage mirrors StreamQuotaLimits over the usage table.
func (s *Service) StreamQuotaUsage(ctx context.Context, req *StreamQuotaUsageRequest, send func(*QuotaUsagePage) error) error {
	idType := types.IDType(req.IDType)
	quotaType := types.QuotaType(req.QuotaType)
	allowed := idSetFilter(req.IDList)

	var exceeded map[uint32]bool
	if req.ExceededOnly {
		var err error
		exceeded, err = exceededSet(ctx, s, req.PoolID, idType, quotaType)
		if err != nil {
			return err
		}
	}

	type msg struct {
		page []types.QuotaUsage
		err  error
	}
	ch := make(chan msg, streamChanBuffer)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(ch)
		afterID := req.IDRangeStart
		for {
			page, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) ([]types.QuotaUsage, error) {
				return store.ListQuotaUsagePage(tx, req.PoolID, idType, quotaType, afterID, quotaPageSize)
			})
			if err != nil {
				select {
				case ch <- msg{err: err}:
				case <-done:
				}
				return
			}
			if len(page) == 0 {
				return
			}
			select {
			case ch <- msg{page: page}:
			case <-done:
				return
			}
			afterID = page[len(page)-1].QuotaID
			if len(page) < quotaPageSize {
				return
			}
		}
	}()

	for m := range ch {
		if m.err != nil {
			return m.err
		}
		filtered := m.page[:0]
		pastRangeEnd := false
		for _, u := range m.page {
			if req.IDRangeEnd != 0 && u.QuotaID > req.IDRangeEnd {
				pastRangeEnd = true
				break
			}
			if allowed != nil && !allowed[u.QuotaID] {
				continue
			}
			if exceeded != nil && !exceeded[u.QuotaID] {
				continue
			}
			filtered = append(filtered, u)
		}
		if len(filtered) > 0 {
			if err := send(&QuotaUsagePage{Usage: filtered}); err != nil {
				return nil
			}
		}
		if pastRangeEnd {
			return nil
		}
	}
	return nil
}

func idSetFilter(ids []uint32) map[uint32]bool {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// exceededSet reuses pkg/quota's own exceeded-id computation so the
// streaming endpoints' exceeded-only filter agrees with what the quota
// aggregator itself already decided exceeds the pool's limits.
func exceededSet(ctx context.Context, s *Service, poolID uint16, idType types.IDType, quotaType types.QuotaType) (map[uint32]bool, error) {
	ids, err := quota.ExceededIDs(ctx, s.store, poolID, idType, quotaType)
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
