package model

import "fmt"

// StatusAlumni は卒業生グループ所属により分類された場合のステータス。
const StatusAlumni = "ALUMNI"

// OutcomeKind はディレクトリ解決結果の種別。
type OutcomeKind int

const (
	// OutcomeResolved はステータス属性から値が得られたことを示す。
	OutcomeResolved OutcomeKind = iota
	// OutcomeClassified はグループ所属からステータスを分類したことを示す。
	OutcomeClassified
	// OutcomeNotFound はステータスが見つからなかったことを示す。
	OutcomeNotFound
	// OutcomeDirectoryError はディレクトリ応答を解釈できなかったことを示す。
	OutcomeDirectoryError
)

// Outcome は1アイデンティティのディレクトリ解決結果。
type Outcome struct {
	Kind   OutcomeKind
	Status string
	Detail string
}

// Resolved はステータス属性から得られた結果を生成する。
func Resolved(status string) Outcome {
	return Outcome{Kind: OutcomeResolved, Status: status}
}

// Classified はグループ所属から分類された結果を生成する。
func Classified(status string) Outcome {
	return Outcome{Kind: OutcomeClassified, Status: status}
}

// NotFound はステータス未検出の結果を生成する。
func NotFound() Outcome {
	return Outcome{Kind: OutcomeNotFound}
}

// DirectoryError はディレクトリ応答エラーの結果を生成する。
func DirectoryError(detail string) Outcome {
	return Outcome{Kind: OutcomeDirectoryError, Detail: detail}
}

// TargetStatus はダウンストリームに反映すべきステータスを返す。
// ResolvedとClassified以外ではfalseを返す。
func (o Outcome) TargetStatus() (string, bool) {
	switch o.Kind {
	case OutcomeResolved, OutcomeClassified:
		return o.Status, true
	default:
		return "", false
	}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeResolved:
		return fmt.Sprintf("Resolved(%s)", o.Status)
	case OutcomeClassified:
		return fmt.Sprintf("Classified(%s)", o.Status)
	case OutcomeNotFound:
		return "NotFound"
	case OutcomeDirectoryError:
		return fmt.Sprintf("DirectoryError(%s)", o.Detail)
	default:
		return "Unknown"
	}
}
