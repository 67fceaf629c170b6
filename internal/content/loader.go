package content

import (
	"context"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/tvdn/tvdn-web/internal/cryptoutil"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/xerrors"
)

// maxSignature caps the detached .sig object.
const maxSignature = 16 << 10

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SignatureVerifier checks a detached signature over a whole bundle.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type LoaderOptions struct {
	Logger log.Logger

	// SSMParam holds the sha256 of the bundle to serve.
	SSMParam string

	// Bundles live at s3://{S3Bucket}/{S3Prefix}/{hash}.tar.gz.
	S3Bucket string
	S3Prefix string

	// SigningKeyARN enables verification of {key}.sig with this KMS key.
	SigningKeyARN string

	Limits Limits
}

type Loader struct {
	opts     LoaderOptions
	ssm      ssmAPI
	s3       s3API
	verifier SignatureVerifier
	logger   log.Logger
	now      func() time.Time
}

// NewLoader builds the AWS clients from awsCfg.
func NewLoader(awsCfg aws.Config, opts LoaderOptions) (*Loader, error) {
	var v SignatureVerifier
	if opts.SigningKeyARN != "" {
		v = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), opts.SigningKeyARN)
	}
	return newLoader(opts, ssm.NewFromConfig(awsCfg), s3.NewFromConfig(awsCfg), v)
}

func newLoader(opts LoaderOptions, ssmc ssmAPI, s3c s3API, v SignatureVerifier) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("content loader: SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("content loader: S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	return &Loader{
		opts:     opts,
		ssm:      ssmc,
		s3:       s3c,
		verifier: v,
		logger:   opts.Logger,
		now:      time.Now,
	}, nil
}

// FetchCurrentHash reads the published bundle hash from SSM.
func (l *Loader) FetchCurrentHash(ctx context.Context) (string, error) {
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}
	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if !cryptoutil.IsSHA256Hex(hash) {
		return "", xerrors.Newf("SSM parameter %s is not a sha256 digest", l.opts.SSMParam)
	}
	return hash, nil
}

func (l *Loader) bundleKey(hash string) string {
	return path.Join(l.opts.S3Prefix, hash+".tar.gz")
}

// getObject reads at most limit bytes of an S3 object.
func (l *Loader) getObject(ctx context.Context, key string, limit int64) ([]byte, string, error) {
	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()
	data, sum, err := readWithHash(out.Body, limit)
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "read s3://%s/%s", l.opts.S3Bucket, key)
	}
	return data, sum, nil
}

// Load fetches whatever SSM currently points at.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash downloads, verifies and extracts one bundle. Nothing touches disk.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	if !cryptoutil.IsSHA256Hex(hash) {
		return nil, xerrors.Newf("invalid bundle hash %q", hash)
	}
	key := l.bundleKey(hash)
	l.logger.Info(ctx, "downloading site bundle", "bucket", l.opts.S3Bucket, "key", key)

	data, actual, err := l.getObject(ctx, key, l.opts.Limits.MaxBundle)
	if err != nil {
		return nil, err
	}
	if !cryptoutil.HashEqual(actual, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actual)
	}

	if l.verifier != nil {
		sig, _, err := l.getObject(ctx, key+".sig", maxSignature)
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch bundle signature")
		}
		if err := l.verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, xerrors.Wrap(err, "bundle signature")
		}
	}

	fsys, err := extractTarGz(data, l.opts.Limits)
	if err != nil {
		return nil, xerrors.Wrap(err, "extract bundle")
	}

	l.logger.Info(ctx, "site bundle loaded",
		"hash", truncHash(hash),
		"bytes", len(data),
		"signed", l.verifier != nil,
	)
	return &Snapshot{
		FS: fsys,
		Meta: Meta{
			Version:  readVersion(fsys, hash),
			Hash:     hash,
			Source:   SourceS3,
			LoadedAt: l.now().UTC(),
		},
	}, nil
}

// readVersion uses a top-level VERSION file when the build wrote one, and
// the short hash otherwise.
func readVersion(fsys fs.FS, hash string) string {
	b, err := fs.ReadFile(fsys, "VERSION")
	if err == nil {
		if v := strings.TrimSpace(string(b)); v != "" && len(v) <= 64 && !strings.ContainsAny(v, "\r\n") {
			return v
		}
	}
	return truncHash(hash)
}

// truncHash shortens a digest for logs and fallback versions.
func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
