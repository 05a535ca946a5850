package shapecache

import (
	"context"
	"sort"
	"sync"

	"github.com/colorfulnotion/openfa/common"
	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/resource"
	"github.com/colorfulnotion/openfa/sh"
	"github.com/colorfulnotion/openfa/x86"
)

// Summary is what a scan records about one shape file.
type Summary struct {
	Version int                `json:"version"`
	Name    string             `json:"name"`
	Hash    common.ContentHash `json:"hash"`
	Size    int                `json:"size"`

	Records  int            `json:"records"`
	Tags     map[string]int `json:"tags"`
	Textures []string       `json:"textures,omitempty"`
	Imports  []string       `json:"imports,omitempty"`

	X86Blocks       int `json:"x86_blocks"`
	X86Instructions int `json:"x86_instructions"`
	// X86Failures counts blocks the disassembler rejected.
	X86Failures int `json:"x86_failures"`
	// RefMismatches counts instructions whose length disagrees with x86asm.
	RefMismatches int `json:"ref_mismatches"`

	Err string `json:"err,omitempty"`
}

func (s *Summary) OK() bool { return s.Err == "" }

// Summarize decodes data and collects its Summary. Decoding failures are
// recorded in Err rather than returned; the partial record prefix is still
// counted.
func Summarize(name string, data []byte) *Summary {
	sum := &Summary{Name: name, Hash: common.ComputeHash(data), Size: len(data), Tags: map[string]int{}}
	s, err := sh.FromBytes(data)
	if err != nil {
		sum.Err = err.Error()
	}
	if s == nil {
		return sum
	}
	sum.Records = len(s.Records)
	sum.Tags = s.TagHistogram()
	sum.Textures = s.Textures()
	for _, tr := range s.Image.Trampolines() {
		sum.Imports = append(sum.Imports, tr.Name)
	}
	for _, i := range s.X86Blocks() {
		sum.X86Blocks++
		code := s.Records[i].(*sh.X86Code).Code
		instrs, err := x86.Disassemble(code)
		if err != nil {
			sum.X86Failures++
			log.Debug(log.CacheModule, "disassembly failed", "file", name, "offset", s.Records[i].Offset(), "err", err)
			continue
		}
		sum.X86Instructions += len(instrs)
		sum.RefMismatches += len(x86.CrossCheck(code, instrs))
	}
	return sum
}

// Stats counts what a Scan did.
type Stats struct {
	Files  int
	Hits   int
	Failed int
}

// Scan summarizes every named file of lib on workers goroutines, consulting
// and filling cache when it is non-nil. Files that cannot be loaded or
// decoded are reported in their Summary; only cache and context errors stop
// the scan. Results come back in name order.
func Scan(ctx context.Context, lib resource.Library, names []string, cache *Cache, workers int) ([]*Summary, Stats, error) {
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan string)
	var (
		mu       sync.Mutex
		out      []*Summary
		stats    Stats
		firstErr error
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				sum, hit, err := scanOne(lib, name, cache)
				if err != nil {
					fail(err)
					continue
				}
				mu.Lock()
				out = append(out, sum)
				stats.Files++
				if hit {
					stats.Hits++
				}
				if !sum.OK() {
					stats.Failed++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			fail(err)
			break
		}
		select {
		case <-ctx.Done():
			fail(ctx.Err())
			break feed
		case jobs <- name:
		}
	}
	close(jobs)
	wg.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	log.Info(log.CacheModule, "scan done", "files", stats.Files, "hits", stats.Hits, "failed", stats.Failed)
	return out, stats, firstErr
}

func scanOne(lib resource.Library, name string, cache *Cache) (*Summary, bool, error) {
	data, err := lib.Load(name)
	if err != nil {
		return &Summary{Name: name, Tags: map[string]int{}, Err: err.Error()}, false, nil
	}
	if cache != nil {
		h := common.ComputeHash(data)
		sum, ok, err := cache.Get(h)
		if err != nil {
			return nil, false, err
		}
		if ok {
			// Identical content may live under another name.
			sum.Name = name
			return sum, true, nil
		}
	}
	sum := Summarize(name, data)
	if cache != nil {
		if err := cache.Put(sum); err != nil {
			return nil, false, err
		}
	}
	return sum, false, nil
}

// Totals folds summaries into one tag histogram.
func Totals(sums []*Summary) map[string]int {
	h := make(map[string]int)
	for _, s := range sums {
		for k, v := range s.Tags {
			h[k] += v
		}
	}
	return h
}
