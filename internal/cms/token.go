package cms

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/tvdn/tvdn-web/internal/xerrors"
)

// ParameterReader is the part of the SSM client TokenFromSSM needs.
type ParameterReader interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// TokenFromSSM reads an access token stored as a SecureString parameter.
func TokenFromSSM(ctx context.Context, api ParameterReader, name string) (string, error) {
	out, err := api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.WithKind(xerrors.Wrapf(err, "get SSM parameter %s", name), xerrors.KindUpstream)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	token := strings.TrimSpace(*out.Parameter.Value)
	if token == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return token, nil
}
