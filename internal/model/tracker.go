// Package model はドメインモデルを定義する。
package model

import "time"

// ResultKind はダウンストリーム更新結果の種別を表す。
// update_resultの文字列プレフィックスではなく、この種別で成否を判定する。
type ResultKind string

const (
	// ResultUpdated はダウンストリームのステータス更新に成功したことを示す。
	ResultUpdated ResultKind = "updated"
	// ResultRejected はダウンストリームが更新を拒否したことを示す。
	ResultRejected ResultKind = "rejected"
	// ResultSkipped はステータスが得られずダウンストリームを呼び出さなかったことを示す。
	ResultSkipped ResultKind = "skipped"
	// ResultFailed はダウンストリーム呼び出し自体が失敗したことを示す。
	ResultFailed ResultKind = "failed"
)

// UpdateResult はApplierが生成する更新結果。
type UpdateResult struct {
	Kind    ResultKind
	Message string
}

// TrackerRecord はアイデンティティごとの処理状態を表す。
// UpdateTimestampが設定されていることが処理済み（終端）の唯一の判定基準であり、
// nilのレコードは処理対象となる。
type TrackerRecord struct {
	ResolvedStatus  *string    `json:"resolved_status"`
	UpdateResult    *string    `json:"update_result"`
	ResultKind      ResultKind `json:"result_kind,omitempty"`
	UpdateTimestamp *time.Time `json:"update_timestamp"`
}

// IsTerminal はレコードが処理済みかどうかを返す。
func (r TrackerRecord) IsTerminal() bool {
	return r.UpdateTimestamp != nil
}

// NewTerminalRecord は処理済みレコードを生成する。
// resolvedStatusが空文字列の場合はResolvedStatusをnilのままにする。
func NewTerminalRecord(resolvedStatus string, result UpdateResult, at time.Time) TrackerRecord {
	rec := TrackerRecord{
		UpdateResult:    &result.Message,
		ResultKind:      result.Kind,
		UpdateTimestamp: &at,
	}
	if resolvedStatus != "" {
		rec.ResolvedStatus = &resolvedStatus
	}
	return rec
}

// Snapshot はトラッカー全体を表す永続化ドキュメント。
// Rosterは元のロスター順序を保持し、Entriesはアイデンティティからレコードへのマッピング。
type Snapshot struct {
	Roster    []string                 `json:"roster"`
	Entries   map[string]TrackerRecord `json:"entries"`
	CreatedAt time.Time                `json:"created_at"`
}

// NewSnapshot は全レコードが未処理の新しいSnapshotを生成する。
// 重複したアイデンティティは最初の出現位置のみ残す。
func NewSnapshot(roster []string, createdAt time.Time) *Snapshot {
	s := &Snapshot{
		Roster:    make([]string, 0, len(roster)),
		Entries:   make(map[string]TrackerRecord, len(roster)),
		CreatedAt: createdAt,
	}
	for _, id := range roster {
		if _, dup := s.Entries[id]; dup {
			continue
		}
		s.Roster = append(s.Roster, id)
		s.Entries[id] = TrackerRecord{}
	}
	return s
}

// Clone はSnapshotのコピーを返す。
// レコード内のポインタは共有するが、ストア側で書き換えることはない。
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Roster:    make([]string, len(s.Roster)),
		Entries:   make(map[string]TrackerRecord, len(s.Entries)),
		CreatedAt: s.CreatedAt,
	}
	copy(c.Roster, s.Roster)
	for id, rec := range s.Entries {
		c.Entries[id] = rec
	}
	return c
}

// Pending は未処理レコード数を返す。
func (s *Snapshot) Pending() int {
	n := 0
	for _, id := range s.Roster {
		if !s.Entries[id].IsTerminal() {
			n++
		}
	}
	return n
}
