// Package report はトラッカーの更新結果を集計して出力する。
// トラッカーは読み取るだけで変更しない。
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/hitoshi/rostersync/internal/model"
)

// 集計時にまとめるバケット。
const (
	BucketPending         = "pending"
	BucketProblemUpdating = "problem updating status"
)

// Count は1つの結果メッセージの件数。
type Count struct {
	Result string
	Count  int
}

// Tally は結果メッセージごとの件数。
type Tally map[string]int

// Build はスナップショットの全レコードを集計する。
// 未処理レコードはBucketPendingに数える。
func Build(snapshot *model.Snapshot) Tally {
	tally := make(Tally)
	for _, id := range snapshot.Roster {
		tally[Bucket(snapshot.Entries[id])]++
	}
	return tally
}

// Bucket はレコードを集計するバケット名を返す。
// ダウンストリームの呼び出し失敗は詳細がレコードごとに異なるため1つにまとめる。
func Bucket(rec model.TrackerRecord) string {
	switch {
	case !rec.IsTerminal() || rec.UpdateResult == nil:
		return BucketPending
	case rec.ResultKind == model.ResultFailed:
		return BucketProblemUpdating
	default:
		return *rec.UpdateResult
	}
}

// Alphabetical は結果メッセージのアルファベット順に並べた件数を返す。
func (t Tally) Alphabetical() []Count {
	counts := t.counts()
	sort.Slice(counts, func(i, j int) bool {
		return counts[i].Result < counts[j].Result
	})
	return counts
}

// ByFrequency は件数の降順に並べた件数を返す。同数の場合はアルファベット順。
func (t Tally) ByFrequency() []Count {
	counts := t.counts()
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Result < counts[j].Result
	})
	return counts
}

// Total は全件数を返す。
func (t Tally) Total() int {
	total := 0
	for _, n := range t {
		total += n
	}
	return total
}

func (t Tally) counts() []Count {
	counts := make([]Count, 0, len(t))
	for result, n := range t {
		counts = append(counts, Count{Result: result, Count: n})
	}
	return counts
}

// Write は集計結果をアルファベット順と件数順の2つのセクションで出力する。
func Write(w io.Writer, tally Tally) error {
	sections := []struct {
		title  string
		counts []Count
	}{
		{"sorted alphabetically", tally.Alphabetical()},
		{"sorted by count", tally.ByFrequency()},
	}

	for _, s := range sections {
		if _, err := fmt.Fprintf(w, "---\n%s\n---\n", s.title); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		for _, c := range s.counts {
			if _, err := fmt.Fprintf(w, "%7d  %s\n", c.Count, c.Result); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
		}
	}
	if _, err := fmt.Fprintf(w, "---\ntotal: %d\n", tally.Total()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
