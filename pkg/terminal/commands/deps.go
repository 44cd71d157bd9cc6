package commands

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/de-tools/egress-meter/pkg/services/accesslog"
	"github.com/de-tools/egress-meter/pkg/services/classifier"
	"github.com/de-tools/egress-meter/pkg/services/config"
	"github.com/de-tools/egress-meter/pkg/services/scanner"
	"github.com/de-tools/egress-meter/pkg/store/accesslogs"
)

// buildClassifier resolves the provider address ranges and builds the
// tier classifier for the configured region.
func buildClassifier(ctx context.Context, cfg *config.Config) (classifier.Classifier, error) {
	source := classifier.NewSource(nil, cfg.IPRangesURL, cfg.FallbackRangesFile)
	doc, err := source.Load(ctx)
	if err != nil {
		return nil, err
	}
	return classifier.New(ctx, doc, cfg.Region)
}

func buildParser(ctx context.Context, cfg *config.Config) (accesslog.Parser, error) {
	format, err := accesslog.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	cls, err := buildClassifier(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return accesslog.NewParser(format, cfg.WorkspacesDomain, cls)
}

// parserFactory defers parser construction to the pipeline, which
// re-resolves the provider ranges on every run.
func parserFactory(cfg *config.Config) scanner.ParserFactory {
	return func(ctx context.Context) (accesslog.Parser, error) {
		return buildParser(ctx, cfg)
	}
}

func buildLogStore(awsCfg *awssdk.Config, cfg *config.Config) accesslogs.Store {
	return accesslogs.NewStore(s3.NewFromConfig(*awsCfg), cfg.Bucket, cfg.LogPrefix())
}
