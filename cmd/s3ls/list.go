package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

const listTimeFormat = "2006-01-02 15:04:05"

type listOptions struct {
	endpoint  string
	region    string
	accessKey string
	secretKey string
	pathStyle bool

	prefix    string
	delimiter string
	marker    string
	maxKeys   int32
	pages     int
	match     string
	rate      float64
}

// listStats summarises one run
type listStats struct {
	Pages    int
	Objects  int
	Prefixes int
	Skipped  int
}

func newRootCmd() *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "s3ls BUCKET",
		Short: "List a bucket with V1 ListObjects",
		Long: `List the objects of a bucket on any S3-compatible endpoint, following
NextMarker until the listing is complete.

Example:
  s3ls photos --endpoint http://localhost:8443
  s3ls photos --prefix 2024/ --delimiter /
  s3ls logs --max-keys 100 --match '**/*.gz' --rate 5`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := runList(cmd.Context(), opts, args[0], cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d objects, %d prefixes, %d pages\n", stats.Objects, stats.Prefixes, stats.Pages)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.endpoint, "endpoint", os.Getenv("S3_ENDPOINT"), "S3 endpoint URL (default AWS)")
	f.StringVar(&opts.region, "region", "us-east-1", "Region to sign requests for")
	f.StringVar(&opts.accessKey, "access-key", "", "Access key ID (default credential chain when empty)")
	f.StringVar(&opts.secretKey, "secret-key", "", "Secret access key")
	f.BoolVar(&opts.pathStyle, "path-style", true, "Use path-style bucket addressing")
	f.StringVarP(&opts.prefix, "prefix", "p", "", "Only list keys beginning with prefix")
	f.StringVarP(&opts.delimiter, "delimiter", "d", "", "Group keys sharing a prefix up to delimiter")
	f.StringVar(&opts.marker, "marker", "", "Start listing after this key")
	f.Int32Var(&opts.maxKeys, "max-keys", 0, "Keys per page (server default when 0)")
	f.IntVar(&opts.pages, "pages", 0, "Stop after this many pages (0 = all)")
	f.StringVarP(&opts.match, "match", "m", "", "Only print keys matching this glob (supports **)")
	f.Float64Var(&opts.rate, "rate", 0, "Maximum requests per second (0 = unlimited)")

	return cmd
}

func newClient(ctx context.Context, opts *listOptions) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.region),
	}
	if opts.accessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.accessKey, opts.secretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.pathStyle
		if opts.endpoint != "" {
			o.BaseEndpoint = aws.String(opts.endpoint)
		}
	}), nil
}

func runList(ctx context.Context, opts *listOptions, bucket string, out io.Writer) (*listStats, error) {
	if opts.match != "" && !doublestar.ValidatePattern(opts.match) {
		return nil, fmt.Errorf("invalid match pattern %q", opts.match)
	}
	if opts.maxKeys < 0 {
		return nil, fmt.Errorf("invalid max-keys %d", opts.maxKeys)
	}

	client, err := newClient(ctx, opts)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if opts.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rate), 1)
	}

	stats := &listStats{}
	marker := opts.marker
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return stats, err
			}
		}

		input := &s3.ListObjectsInput{
			Bucket: aws.String(bucket),
		}
		if opts.prefix != "" {
			input.Prefix = aws.String(opts.prefix)
		}
		if opts.delimiter != "" {
			input.Delimiter = aws.String(opts.delimiter)
		}
		if marker != "" {
			input.Marker = aws.String(marker)
		}
		if opts.maxKeys > 0 {
			input.MaxKeys = aws.Int32(opts.maxKeys)
		}

		page, err := client.ListObjects(ctx, input)
		if err != nil {
			return stats, apiError(bucket, err)
		}
		stats.Pages++

		last := ""
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			last = key
			if !matches(opts.match, key) {
				stats.Skipped++
				continue
			}
			stats.Objects++
			fmt.Fprintf(out, "%s %10d %s\n", aws.ToTime(obj.LastModified).UTC().Format(listTimeFormat), aws.ToInt64(obj.Size), key)
		}
		for _, p := range page.CommonPrefixes {
			prefix := aws.ToString(p.Prefix)
			if prefix > last {
				last = prefix
			}
			stats.Prefixes++
			fmt.Fprintf(out, "%30s %s\n", "PRE", prefix)
		}

		if !aws.ToBool(page.IsTruncated) {
			return stats, nil
		}
		if opts.pages > 0 && stats.Pages >= opts.pages {
			return stats, nil
		}

		next := aws.ToString(page.NextMarker)
		if next == "" {
			next = last
		}
		if next == "" || next == marker {
			return stats, fmt.Errorf("listing of %s is truncated but made no progress past %q", bucket, marker)
		}
		marker = next
	}
}

func matches(pattern, key string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, key)
	return err == nil && ok
}

// apiError flattens an SDK error into the S3 error code and message
func apiError(bucket string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("listing %s: %s: %s", bucket, ae.ErrorCode(), ae.ErrorMessage())
	}
	return fmt.Errorf("listing %s: %w", bucket, err)
}
