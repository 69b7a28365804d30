package daemon

import (
	"context"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
)

// ApplyDynamicPartitionRequests is the Dynamic Partition Handler. For
// each request it partitions the claimed keys against the store into
// existent/nonexistent: Add requests only add the nonexistent keys
// (idempotent), Delete requests only delete the existent ones (serial per
// key — a bulk delete API is a known gap, not yet needed at this scale).
// A result is recorded for every request regardless of whether anything
// changed.
func ApplyDynamicPartitionRequests(ctx context.Context, st store.Store, requests []tick.DynamicPartitionsRequest) ([]tick.DynamicPartitionsRequestResult, error) {
	results := make([]tick.DynamicPartitionsRequestResult, 0, len(requests))
	for _, req := range requests {
		result := tick.DynamicPartitionsRequestResult{PartitionsDefName: req.PartitionsDefName}

		existent, nonexistent, err := splitByExistence(ctx, st, req.PartitionsDefName, req.PartitionKeys)
		if err != nil {
			return nil, err
		}

		switch req.Kind {
		case tick.PartitionRequestAdd:
			if len(nonexistent) > 0 {
				if err := st.AddDynamicPartitions(ctx, req.PartitionsDefName, nonexistent); err != nil {
					return nil, errors.Wrapf(err, "failed to add dynamic partitions for %s", req.PartitionsDefName)
				}
			}
			result.Added = nonexistent
			result.Skipped = existent
		case tick.PartitionRequestDelete:
			for _, key := range existent {
				if err := st.DeleteDynamicPartition(ctx, req.PartitionsDefName, key); err != nil {
					return nil, errors.Wrapf(err, "failed to delete dynamic partition %s/%s", req.PartitionsDefName, key)
				}
			}
			result.Deleted = existent
			result.Skipped = nonexistent
		}

		results = append(results, result)
	}
	return results, nil
}

func splitByExistence(ctx context.Context, st store.Store, defName string, keys []string) (existent, nonexistent []string, err error) {
	for _, key := range keys {
		has, err := st.HasDynamicPartition(ctx, defName, key)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to check dynamic partition %s/%s", defName, key)
		}
		if has {
			existent = append(existent, key)
		} else {
			nonexistent = append(nonexistent, key)
		}
	}
	return existent, nonexistent, nil
}
