// Package hybridann implements a hybrid mutable approximate-nearest-neighbor
// vector index: a small, mutable in-memory graph absorbs inserts and lazy
// deletes, while a large, read-only, PQ-compressed on-disk graph holds the
// bulk of the corpus. Periodic merges fold the memory index into a freshly
// rebuilt disk index.
//
// A single coordinator owns the two substrates, a tombstone registry, and a
// label<->internal-id map, all guarded by one sync.RWMutex: searches take
// the lock shared, mutations (insert, remove, merge) take it exclusive.
// There is no double-buffering, so a merge stalls readers and writers alike
// for its duration — an accepted tradeoff for write-rare workloads.
//
//	ix, err := hybridann.New("corpus.data", "corpus_disk",
//		hybridann.WithDimension(128), hybridann.WithMemThreshold(10000))
//	if err != nil { ... }
//	defer ix.Close()
//	_ = ix.Insert(ctx, 42, vector)
//	results, _ := ix.Search(ctx, query, 10, 100)
package hybridann

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/google/uuid"
	"github.com/nilshell/hybridann/diskindex"
	"github.com/nilshell/hybridann/memindex"
	"github.com/nilshell/hybridann/metric"
)

// Index is the top-level coordinator: disk index loader, query planner,
// mutation coordinator, and merge/compactor rolled into one type, holding
// the tombstone registry and label<->id map as private state.
type Index struct {
	mu sync.RWMutex

	dataFilePath    string
	diskIndexPrefix string

	dim            int
	threshold      int
	maxDegree      int
	searchListSize int
	beamWidth      int
	distanceMetric metric.Type

	metrics MetricsCollector
	logger  *Logger

	tombstones *TombstoneRegistry
	labelMap   *LabelIDMap
	mem        MemIndex
	disk       DiskIndex // nil until a disk index has been loaded or built

	mergeGroup singleflight.Group
}

// New constructs a coordinator over dataFilePath (the base data file) and
// diskIndexPrefix (the on-disk Vamana/PQ index's file prefix). If a disk
// index already exists at diskIndexPrefix it is loaded; a failure to load
// is recovered locally (wrapped as a LoadError and logged, not returned)
// and the coordinator starts memory-only.
func New(dataFilePath, diskIndexPrefix string, opts ...Option) (*Index, error) {
	o := applyOptions(opts)

	baseDim, _, err := readBaseDataFile(dataFilePath)
	if err != nil {
		return nil, translateError(err)
	}

	dim := o.dimension
	if dim == 0 {
		dim = baseDim
	}
	if dim == 0 {
		return nil, &ConfigError{Reason: "vector dimension is unknown: pass WithDimension, or point at an existing base data file"}
	}
	if baseDim != 0 && baseDim != dim {
		return nil, &DimensionMismatch{Expected: baseDim, Actual: dim}
	}

	if o.memThreshold == 0 && o.ramBudgetGB == 0 {
		return nil, &ConfigError{Reason: "both mem_threshold and ram_budget_gb are zero/unset"}
	}
	threshold := o.memThreshold
	if threshold == 0 {
		threshold = ramBudgetThreshold(o.ramBudgetGB, dim, 4, o.maxDegree)
		if threshold < 1 {
			threshold = 1
		}
	}

	ix := &Index{
		dataFilePath:    dataFilePath,
		diskIndexPrefix: diskIndexPrefix,
		dim:             dim,
		threshold:       threshold,
		maxDegree:       o.maxDegree,
		searchListSize:  o.searchListSize,
		beamWidth:       o.beamWidth,
		distanceMetric:  o.distanceMetric,
		metrics:         o.metricsCollector,
		logger:          o.logger,
		tombstones:      NewTombstoneRegistry(),
		labelMap:        NewLabelIDMap(),
		mem:             memindex.New(dim, o.maxDegree, o.distanceMetric),
	}

	if err := ix.loadDiskIndexLocked(context.Background()); err != nil {
		ix.logger.LogReload(context.Background(), diskIndexPrefix, 0, err)
	}

	return ix, nil
}

// loadDiskIndexLocked loads (or reloads) the on-disk index and rebuilds the
// label map that tracks it. Called from New (no concurrent access yet) and
// from merge's reload phase (under the exclusive lock already held).
func (ix *Index) loadDiskIndexLocked(ctx context.Context) error {
	disk, err := diskindex.Load(ix.diskIndexPrefix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // no disk index yet; memory-only start is normal, not an error
		}
		return &LoadError{Prefix: ix.diskIndexPrefix, cause: err}
	}

	labelMap, err := LoadLabelIDMapFromFile(ix.diskIndexPrefix + "_labels.txt")
	if err != nil || labelMap.Len() != disk.NumPoints() {
		// Labels sidecar missing or inconsistent: fall back to the disk
		// index's own embedded labels.
		labelMap = NewLabelIDMap()
		for id := uint32(0); id < uint32(disk.NumPoints()); id++ {
			label, lerr := disk.GetLabel(id)
			if lerr != nil {
				continue // lookup miss: id has no resolvable label, skip it
			}
			labelMap.Set(id, label)
		}
	}

	if ix.disk != nil {
		ix.disk.Close()
	}
	ix.disk = disk
	ix.labelMap = labelMap
	ix.tombstones.RecomputeDiskIDsFromMap(labelMap)

	ix.logger.LogReload(ctx, ix.diskIndexPrefix, disk.NumPoints(), nil)
	return nil
}

// Insert adds or overwrites the point for label. A threshold-triggered
// merge fires automatically once the memory index's point count reaches
// the configured threshold.
func (ix *Index) Insert(ctx context.Context, label uint64, vector []float32) error {
	if len(vector) != ix.dim {
		return &DimensionMismatch{Expected: ix.dim, Actual: len(vector)}
	}

	start := time.Now()
	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Resurrection path: clear any prior deleted_labels entry so a label
	// that comes back to life isn't still masked as deleted. disk_deleted_ids
	// is left alone here, so if label previously lived on disk, that row
	// stays masked until the next disk index reload rebuilds the mask from
	// deleted_labels alone; from then on the old row is searchable again and
	// Search's per-label dedup keeps whichever vector is nearer the query.
	ix.tombstones.UnmarkDeleted(label)

	err := ix.mem.Insert(ctx, label, vector)
	if err != nil {
		err = &InsertionError{Label: label, cause: err}
	}
	ix.logger.LogInsert(ctx, label, len(vector), err)
	ix.metrics.RecordInsert(time.Since(start), err)

	if ix.mem.NumPoints() >= ix.threshold {
		if merr := ix.doMergeLocked(ctx); merr != nil {
			ix.logger.ErrorContext(ctx, "threshold-triggered merge failed", "error", merr)
		}
	}

	// InsertionError is logged, never surfaced to the caller: Insert's
	// contract is that a rejected point doesn't fail the whole call.
	return nil
}

// Remove tombstones label. Removing a label the memory index never held
// (disk-only, already-removed, or never-existing) is a valid no-op.
func (ix *Index) Remove(label uint64) error {
	start := time.Now()
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.tombstones.MarkDeleted(label)
	if id, ok := ix.labelMap.ID(label); ok {
		ix.tombstones.MarkDiskIDDeleted(id)
	}

	if err := translateError(ix.mem.LazyDelete(label)); err != nil && !errors.Is(err, ErrDeleteMiss) {
		ix.metrics.RecordRemove(time.Since(start))
		return err
	}

	ix.logger.LogRemove(context.Background(), label)
	ix.metrics.RecordRemove(time.Since(start))
	return nil
}

// Search runs a k-NN search across both substrates and merges the results.
// Results are deduplicated by label (keeping the nearest distance),
// filtered against the tombstone registry, sorted by distance, and padded
// to k with +Inf-distance, zero-label slots when fewer than k live results
// exist.
func (ix *Index) Search(ctx context.Context, query []float32, k, searchListSize int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if searchListSize <= 0 {
		searchListSize = ix.searchListSize
	}

	start := time.Now()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var memResults []SearchResult
	var diskResults []DiskSearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := ix.mem.SearchWithTags(gctx, query, k, searchListSize)
		if err != nil {
			return err
		}
		memResults = res
		return nil
	})
	if ix.disk != nil {
		g.Go(func() error {
			res, err := ix.disk.BeamSearch(gctx, query, k, searchListSize, ix.beamWidth, ix.tombstones)
			if err != nil {
				return err
			}
			diskResults = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		ix.metrics.RecordSearch(k, 0, time.Since(start), err)
		ix.logger.LogSearch(ctx, k, searchListSize, 0, err)
		return nil, translateError(err)
	}

	best := make(map[uint64]float32, k*2)
	for _, r := range memResults {
		if ix.tombstones.IsDeleted(r.Label) {
			continue
		}
		if d, ok := best[r.Label]; !ok || r.Distance < d {
			best[r.Label] = r.Distance
		}
	}
	for _, r := range diskResults {
		label, err := ix.disk.GetLabel(r.ID)
		if err != nil {
			continue // lookup miss: result's internal id has no resolvable label
		}
		if ix.tombstones.IsDeleted(label) {
			continue
		}
		if d, ok := best[label]; !ok || r.Distance < d {
			best[label] = r.Distance
		}
	}

	results := make([]SearchResult, 0, len(best))
	for label, dist := range best {
		results = append(results, SearchResult{Label: label, Distance: dist})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	found := len(results)
	for len(results) < k {
		results = append(results, SearchResult{Label: 0, Distance: float32(math.Inf(1))})
	}

	ix.metrics.RecordSearch(k, found, time.Since(start), nil)
	ix.logger.LogSearch(ctx, k, searchListSize, found, nil)
	return results, nil
}

// Merge manually triggers a merge/compaction cycle. Concurrent Merge callers
// are coalesced via singleflight onto one in-flight rebuild. A
// threshold-triggered merge runs directly inside Insert under the exclusive
// lock and is not part of that coalescing: a Merge call that waits behind
// one runs its own cycle afterwards.
func (ix *Index) Merge(ctx context.Context) error {
	_, err, _ := ix.mergeGroup.Do("merge", func() (interface{}, error) {
		ix.mu.Lock()
		defer ix.mu.Unlock()
		return nil, ix.doMergeLocked(ctx)
	})
	return err
}

// doMergeLocked runs the full merge/compaction cycle: consolidate deletes,
// serialize the memory index, fold it with the surviving disk rows, rebuild
// the disk index from the combined corpus, and reload. Callers must hold
// ix.mu exclusively.
func (ix *Index) doMergeLocked(ctx context.Context) error {
	start := time.Now()
	memPointsBefore := ix.mem.NumPoints()
	diskPointsBefore := 0
	if ix.disk != nil {
		diskPointsBefore = ix.disk.NumPoints()
	}

	fail := func(err error) error {
		ix.logger.LogMerge(ctx, memPointsBefore, diskPointsBefore, diskPointsBefore, time.Since(start).Seconds(), err)
		ix.metrics.RecordMerge(memPointsBefore, time.Since(start), err)
		return err
	}

	// Phase A: consolidate lazy deletes in the memory index.
	ix.mem.ConsolidateDeletes()

	// Phase B: serialize the memory index to a uniquely named temp prefix.
	tempPrefix := fmt.Sprintf("%s_temp_mem_%s", ix.diskIndexPrefix, uuid.NewString())
	if err := ix.mem.Save(tempPrefix, true); err != nil {
		return fail(&BuildError{cause: err})
	}
	defer os.Remove(tempPrefix + ".data")
	defer os.Remove(tempPrefix + ".tags")

	newVectors, err := readVectorFile(tempPrefix+".data", ix.dim)
	if err != nil {
		return fail(err)
	}
	newLabels, err := readTagsFile(tempPrefix + ".tags")
	if err != nil {
		return fail(err)
	}

	// Gather surviving rows from the base data file: the row order there
	// matches the current disk index's internal ids exactly (established
	// by the previous merge), so row i's label is labelMap.Label(i).
	baseDim, baseRows, err := readBaseDataFile(ix.dataFilePath)
	if err != nil {
		return fail(err)
	}
	if baseDim != 0 && baseDim != ix.dim {
		return fail(&DimensionMismatch{Expected: baseDim, Actual: ix.dim})
	}

	rows := make([][]float32, 0, len(baseRows)+len(newVectors))
	labels := make([]uint64, 0, len(baseRows)+len(newVectors))
	var purged []uint64
	for i, vec := range baseRows {
		label, ok := ix.labelMap.Label(uint32(i))
		if !ok {
			continue
		}
		if ix.tombstones.IsDeleted(label) {
			// Tombstoned disk rows are physically dropped on merge; the
			// label no longer has a row anywhere, so the tombstone is
			// retired below rather than kept around to mask nothing.
			purged = append(purged, label)
			continue
		}
		rows = append(rows, vec)
		labels = append(labels, label)
	}
	rows = append(rows, newVectors...)
	labels = append(labels, newLabels...)

	for _, label := range purged {
		ix.tombstones.UnmarkDeleted(label)
	}

	// Phase C: write the combined corpus to the base data file atomically.
	if err := writeBaseDataFile(ix.dataFilePath, ix.dim, rows); err != nil {
		return fail(err)
	}

	// Phase D+E: rebuild the disk index from the combined corpus. The
	// builder independently writes the authoritative labels sidecar, so
	// there is no separate label-file reconciliation step.
	builder := diskindex.NewBuilder(ix.dim, ix.maxDegree, ix.distanceMetric)
	for i, vec := range rows {
		builder.Add(vec, labels[i])
	}
	if err := builder.Build(ctx, ix.diskIndexPrefix); err != nil {
		return fail(&BuildError{cause: err})
	}

	// Phase F: reload the disk index and reproject tombstones.
	if err := ix.loadDiskIndexLocked(ctx); err != nil {
		return fail(&BuildError{cause: err})
	}
	ix.mem.Reset()

	duration := time.Since(start)
	ix.logger.LogMerge(ctx, memPointsBefore, diskPointsBefore, ix.disk.NumPoints(), duration.Seconds(), nil)
	ix.metrics.RecordMerge(memPointsBefore, duration, nil)
	return nil
}

// Close releases the mmap'd disk index and any other held resources.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.disk != nil {
		return ix.disk.Close()
	}
	return nil
}
