package downstream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/rostersync/internal/model"
	"github.com/hitoshi/rostersync/internal/security"
)

// --- モック定義 ---

// mockUpdater はStatusUpdaterのモック。
type mockUpdater struct {
	updateStatusFunc func(ctx context.Context, identity, status string) (*StatusResponse, error)
	calls            int
}

func (m *mockUpdater) UpdateStatus(ctx context.Context, identity, status string) (*StatusResponse, error) {
	m.calls++
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, identity, status)
	}
	return nil, errors.New("not configured")
}

func strPtr(s string) *string { return &s }

var fixedNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestApplier(buf *bytes.Buffer, updater StatusUpdater) *Applier {
	a := NewApplier(updater, security.NewMessageSanitizer(), newTestLogger(buf))
	a.now = func() time.Time { return fixedNow }
	return a
}

func TestApplier_Apply_SkipsWithoutStatus(t *testing.T) {
	tests := []struct {
		name    string
		outcome model.Outcome
		want    string
	}{
		{"ステータス未検出", model.NotFound(), "not updated, no status found"},
		{"不正なレスポンス", model.DirectoryError("malformed response"), "not updated, malformed response"},
		{"ステータスフィールドなし", model.DirectoryError("missing status field"), "not updated, missing status field"},
		{"ルックアップ失敗", model.DirectoryError("lookup failed"), "not updated, lookup failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			updater := &mockUpdater{}
			a := newTestApplier(&buf, updater)

			rec := a.Apply(context.Background(), "amy", tt.outcome)

			if updater.calls != 0 {
				t.Errorf("ダウンストリーム呼び出し回数 = %d, want 0", updater.calls)
			}
			if *rec.UpdateResult != tt.want {
				t.Errorf("UpdateResult = %q, want %q", *rec.UpdateResult, tt.want)
			}
			if !strings.HasPrefix(*rec.UpdateResult, "not updated,") {
				t.Errorf("UpdateResult は \"not updated,\" で始まるべき: %q", *rec.UpdateResult)
			}
			if rec.ResultKind != model.ResultSkipped {
				t.Errorf("ResultKind = %q, want %q", rec.ResultKind, model.ResultSkipped)
			}
			if rec.ResolvedStatus != nil {
				t.Errorf("ResolvedStatus = %q, want nil", *rec.ResolvedStatus)
			}
			if rec.UpdateTimestamp == nil || !rec.UpdateTimestamp.Equal(fixedNow) {
				t.Errorf("UpdateTimestamp = %v, want %v", rec.UpdateTimestamp, fixedNow)
			}
		})
	}
}

func TestApplier_Apply_Updated(t *testing.T) {
	var buf bytes.Buffer
	var gotIdentity, gotStatus string
	updater := &mockUpdater{
		updateStatusFunc: func(ctx context.Context, identity, status string) (*StatusResponse, error) {
			gotIdentity, gotStatus = identity, status
			return &StatusResponse{InitialStatus: strPtr("NONE"), UpdatedStatus: strPtr("STAFF")}, nil
		},
	}
	a := newTestApplier(&buf, updater)

	rec := a.Apply(context.Background(), "amy", model.Resolved("STAFF"))

	if gotIdentity != "amy" || gotStatus != "STAFF" {
		t.Errorf("UpdateStatus(%q, %q), want (amy, STAFF)", gotIdentity, gotStatus)
	}
	if *rec.UpdateResult != "updated, NONE -> STAFF" {
		t.Errorf("UpdateResult = %q", *rec.UpdateResult)
	}
	if !strings.Contains(*rec.UpdateResult, "NONE") || !strings.Contains(*rec.UpdateResult, "STAFF") {
		t.Errorf("UpdateResult は変更前後のステータスを含むべき: %q", *rec.UpdateResult)
	}
	if rec.ResultKind != model.ResultUpdated {
		t.Errorf("ResultKind = %q, want %q", rec.ResultKind, model.ResultUpdated)
	}
	if rec.ResolvedStatus == nil || *rec.ResolvedStatus != "STAFF" {
		t.Errorf("ResolvedStatus = %v, want STAFF", rec.ResolvedStatus)
	}
	if !rec.IsTerminal() {
		t.Error("レコードは処理済みであるべき")
	}
}

func TestApplier_Apply_ClassifiedAlumni(t *testing.T) {
	var buf bytes.Buffer
	updater := &mockUpdater{
		updateStatusFunc: func(ctx context.Context, identity, status string) (*StatusResponse, error) {
			if status != model.StatusAlumni {
				t.Errorf("status = %q, want %q", status, model.StatusAlumni)
			}
			return &StatusResponse{UpdatedStatus: strPtr("ALUMNI")}, nil
		},
	}
	a := newTestApplier(&buf, updater)

	rec := a.Apply(context.Background(), "amy", model.Classified(model.StatusAlumni))

	if *rec.UpdateResult != "updated, NONE -> ALUMNI" {
		t.Errorf("UpdateResult = %q", *rec.UpdateResult)
	}
}

func TestApplier_Apply_Rejected(t *testing.T) {
	var buf bytes.Buffer
	updater := &mockUpdater{
		updateStatusFunc: func(ctx context.Context, identity, status string) (*StatusResponse, error) {
			return &StatusResponse{UpdatedStatus: nil, Error: "unknown user"}, nil
		},
	}
	a := newTestApplier(&buf, updater)

	rec := a.Apply(context.Background(), "amy", model.Resolved("STAFF"))

	if *rec.UpdateResult != "unknown user" {
		t.Errorf("UpdateResult = %q, want %q", *rec.UpdateResult, "unknown user")
	}
	if rec.ResultKind != model.ResultRejected {
		t.Errorf("ResultKind = %q, want %q", rec.ResultKind, model.ResultRejected)
	}
	if rec.ResolvedStatus == nil || *rec.ResolvedStatus != "STAFF" {
		t.Errorf("ResolvedStatus = %v, want STAFF", rec.ResolvedStatus)
	}
}

func TestApplier_Apply_RejectionMessageIsStoredAsReceived(t *testing.T) {
	tests := []struct {
		name    string
		errText string
		wantLog string
	}{
		{"山括弧を含むプレーンテキスト", "user <jdoe@brown.edu> not in ILLiad", "not in ILLiad"},
		{"HTMLを含む", "<b>invalid</b> status<script>x()</script>", "invalid status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			updater := &mockUpdater{
				updateStatusFunc: func(ctx context.Context, identity, status string) (*StatusResponse, error) {
					return &StatusResponse{Error: tt.errText}, nil
				},
			}
			a := newTestApplier(&buf, updater)

			rec := a.Apply(context.Background(), "amy", model.Resolved("STAFF"))

			if *rec.UpdateResult != tt.errText {
				t.Errorf("UpdateResult = %q, want %q", *rec.UpdateResult, tt.errText)
			}
			if rec.ResultKind != model.ResultRejected {
				t.Errorf("ResultKind = %q, want %q", rec.ResultKind, model.ResultRejected)
			}
			if !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("ログに拒否理由が出力されていない: %s", buf.String())
			}
			if strings.Contains(buf.String(), "<script>") {
				t.Errorf("ログにマークアップが残っている: %s", buf.String())
			}
		})
	}
}

func TestApplier_Apply_EmptyRejectionMessage(t *testing.T) {
	var buf bytes.Buffer
	updater := &mockUpdater{
		updateStatusFunc: func(ctx context.Context, identity, status string) (*StatusResponse, error) {
			return &StatusResponse{Error: "  "}, nil
		},
	}
	a := newTestApplier(&buf, updater)

	rec := a.Apply(context.Background(), "amy", model.Resolved("STAFF"))

	want := "problem updating status, no updated status in response"
	if *rec.UpdateResult != want {
		t.Errorf("UpdateResult = %q, want %q", *rec.UpdateResult, want)
	}
	if rec.ResultKind != model.ResultRejected {
		t.Errorf("ResultKind = %q, want %q", rec.ResultKind, model.ResultRejected)
	}
}

func TestApplier_Apply_TransportFailureIsRecorded(t *testing.T) {
	var buf bytes.Buffer
	updater := &mockUpdater{
		updateStatusFunc: func(ctx context.Context, identity, status string) (*StatusResponse, error) {
			return nil, errors.New("connection refused")
		},
	}
	a := newTestApplier(&buf, updater)

	rec := a.Apply(context.Background(), "amy", model.Resolved("STAFF"))

	if updater.calls != 1 {
		t.Errorf("ダウンストリーム呼び出し回数 = %d, want 1（リトライしない）", updater.calls)
	}
	if *rec.UpdateResult != "problem updating status, connection refused" {
		t.Errorf("UpdateResult = %q", *rec.UpdateResult)
	}
	if rec.ResultKind != model.ResultFailed {
		t.Errorf("ResultKind = %q, want %q", rec.ResultKind, model.ResultFailed)
	}
	if !rec.IsTerminal() {
		t.Error("失敗したレコードも処理済みであるべき")
	}
	if !strings.Contains(buf.String(), "connection refused") {
		t.Errorf("失敗がログに出力されていない: %s", buf.String())
	}
}

func TestApplier_Apply_WithHTTPClient(t *testing.T) {
	var buf bytes.Buffer
	server := newTestServer(t, 200, `{"response": {"initial_status": "NONE", "updated_status": "STAFF"}}`, nil)
	client := NewClient(server.Client(), server.URL, "secret", 0, newTestLogger(&buf))
	a := newTestApplier(&buf, client)

	rec := a.Apply(context.Background(), "amy", model.Resolved("STAFF"))

	if *rec.UpdateResult != "updated, NONE -> STAFF" {
		t.Errorf("UpdateResult = %q", *rec.UpdateResult)
	}
}

func TestApplier_Apply_RejectionWith4xx(t *testing.T) {
	var buf bytes.Buffer
	server := newTestServer(t, http.StatusBadRequest, `{"response": {"updated_status": null, "error": "unknown user"}}`, nil)
	client := NewClient(server.Client(), server.URL, "secret", 0, newTestLogger(&buf))
	a := newTestApplier(&buf, client)

	rec := a.Apply(context.Background(), "amy", model.Resolved("STAFF"))

	if *rec.UpdateResult != "unknown user" {
		t.Errorf("UpdateResult = %q, want %q", *rec.UpdateResult, "unknown user")
	}
	if rec.ResultKind != model.ResultRejected {
		t.Errorf("ResultKind = %q, want %q", rec.ResultKind, model.ResultRejected)
	}
}
