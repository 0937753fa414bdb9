package handlers

import (
	"context"
	"database/sql"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/quota"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// SetQuota installs a batch of per-ID quota limit overrides for one pool,
// id type, and quota axis. GetQuotaInfo and SetExceededQuota are not
// handled here: for those messages management is the requester or
// broadcaster, never the recipient.
func SetQuota(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeSetQuotaRequest(body)
	if err != nil {
		return err
	}
	idType := types.IDType(req.IDType)
	quotaType := types.QuotaType(req.QuotaType)

	_, err = store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (struct{}, error) {
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
		return err
	}

	return ch.Reply(wire.MsgSetQuotaResp, 0, wire.EncodeResultResponse(wire.ResultResponse{Result: wire.ResultSuccess}))
}

// SetDefaultQuota installs the pool-wide fallback limit applied to any
// quota ID in the pool with no override of its own.
func SetDefaultQuota(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeSetDefaultQuotaRequest(body)
	if err != nil {
		return err
	}

	_, err = store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, store.SetDefaultQuotaLimit(tx, types.QuotaDefaultLimit{
			PoolID: req.PoolID, IDType: types.IDType(req.IDType), Type: types.QuotaType(req.QuotaType), Value: req.Value,
		})
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgSetDefaultQuotaResp, 0, wire.EncodeResultResponse(wire.ResultResponse{Result: wire.ResultSuccess}))
}

// GetDefaultQuota reports a pool's current fallback limit for one id type
// and axis, if one has been set.
func GetDefaultQuota(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeGetDefaultQuotaRequest(body)
	if err != nil {
		return err
	}

	type result struct {
		value uint64
		isSet bool
	}
	res, err := store.ReadTx(ctx, app.Store, func(tx *sql.Tx) (result, error) {
		value, isSet, err := store.GetDefaultQuotaLimit(tx, req.PoolID, types.IDType(req.IDType), types.QuotaType(req.QuotaType))
		return result{value: value, isSet: isSet}, err
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgGetDefaultQuotaResp, 0, wire.EncodeGetDefaultQuotaResponse(wire.GetDefaultQuotaResponse{
		Value: res.value, IsSet: res.isSet,
	}))
}

// RequestExceededQuota answers an on-demand query for a pool's currently
// over-limit quota ids, computed the same way the aggregation cycle
// decides what to broadcast.
func RequestExceededQuota(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeRequestExceededQuotaRequest(body)
	if err != nil {
		return err
	}
	if !app.Static.Config.Quota.Enabled {
		return mgmterr.Newf(mgmterr.Policy, "quota tracking is not enabled")
	}

	ids, err := quota.ExceededIDs(ctx, app.Store, req.PoolID, types.IDType(req.IDType), types.QuotaType(req.QuotaType))
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgRequestExceededQuotaResp, 0, wire.EncodeExceededQuotaIDs(wire.ExceededQuotaIDs{
		PoolID: req.PoolID, IDType: req.IDType, QuotaType: req.QuotaType, IDs: ids,
	}))
}
