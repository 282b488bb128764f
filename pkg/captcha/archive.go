package captcha

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"giftops/pkg/config"

	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Archiver stores captcha images the solver failed on, so operators can
// retrain the OCR model against real samples. Disabled when MinIO is not
// configured; every call is best-effort.
type Archiver struct {
	client *minio.Client
	bucket string
}

type ArchiverParams struct {
	fx.In
	Cfg   *config.Config
	Minio *minio.Client `optional:"true"`
}

func NewArchiver(p ArchiverParams) *Archiver {
	if p.Minio == nil || !p.Cfg.Engine.ArchiveFailedSolve {
		return &Archiver{}
	}
	return &Archiver{client: p.Minio, bucket: p.Cfg.Minio.BucketName}
}

func (a *Archiver) Enabled() bool { return a != nil && a.client != nil }

// SaveFailed uploads one unsolved image under failed/<date>/<fid>-<ts>.png.
func (a *Archiver) SaveFailed(ctx context.Context, fid string, image []byte) {
	if !a.Enabled() {
		return
	}

	now := time.Now().UTC()
	object := fmt.Sprintf("failed/%s/%s-%d.png", now.Format("2006-01-02"), fid, now.UnixNano())

	_, err := a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(image), int64(len(image)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		zap.L().Warn("failed to archive captcha image", zap.String("object", object), zap.Error(err))
	}
}
