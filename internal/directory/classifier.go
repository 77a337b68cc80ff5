package directory

import (
	"log/slog"
	"strings"

	"github.com/hitoshi/rostersync/internal/model"
)

// AlumniGroup は卒業生として分類する唯一のグループ。
const AlumniGroup = "BROWN:COMMUNITY:ALUMNI:ALL"

// Classifier はステータス属性が空のレコードをグループ所属から分類する。
type Classifier struct {
	logger *slog.Logger
}

// NewClassifier はClassifierを生成する。
func NewClassifier(logger *slog.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify はAlumniGroupへの所属があればClassified(ALUMNI)、なければNotFoundを返す。
// ALUMNIを含むだけの類似グループは分類せず、警告ログのみ出力する。
func (c *Classifier) Classify(identity string, groups []string) model.Outcome {
	var lookalikes []string
	for _, g := range groups {
		if g == AlumniGroup {
			return model.Classified(model.StatusAlumni)
		}
		if strings.Contains(strings.ToUpper(g), "ALUMNI") {
			lookalikes = append(lookalikes, g)
		}
	}

	if len(lookalikes) > 0 {
		c.logger.Warn("卒業生グループに類似したグループは分類しません",
			slog.String("identity", identity),
			slog.Any("groups", lookalikes),
		)
	}
	return model.NotFound()
}
