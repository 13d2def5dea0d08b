// Package metrics publishes per-job report counts to CloudWatch.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"orca/internal/reconcile"
)

const (
	Namespace = "ORCA/Reconciliation"

	MetricMismatches = "CatalogMismatches"
	MetricPhantoms   = "PhantomFiles"
	MetricOrphans    = "OrphanObjects"

	DimensionReportSource = "ReportSource"
)

type CloudWatchClientInterface interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type Publisher struct {
	client    CloudWatchClientInterface
	namespace string
	now       func() time.Time
}

func NewPublisher(client CloudWatchClientInterface, namespace string) *Publisher {
	if namespace == "" {
		namespace = Namespace
	}
	return &Publisher{client: client, namespace: namespace, now: time.Now}
}

func (p *Publisher) PublishCounts(ctx context.Context, jobID int64, reportSource string, counts reconcile.Counts) error {
	dimensions := []cwTypes.Dimension{
		{Name: aws.String(DimensionReportSource), Value: aws.String(reportSource)},
	}
	ts := p.now().UTC()

	datum := func(name string, value int) cwTypes.MetricDatum {
		return cwTypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: dimensions,
			Timestamp:  aws.Time(ts),
			Unit:       cwTypes.StandardUnitCount,
			Value:      aws.Float64(float64(value)),
		}
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwTypes.MetricDatum{
			datum(MetricMismatches, counts.Mismatches),
			datum(MetricPhantoms, counts.Phantoms),
			datum(MetricOrphans, counts.Orphans),
		},
	})
	return err
}
