package wasmbuild

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UploadClient wraps the S3 client for an S3-compatible bucket (Cloudflare
// R2 endpoint layout). Credentials come from the [upload] section of the
// config file.
type UploadClient struct {
	Client     *s3.Client
	BucketName string
}

func newUploadClient(values map[string]string) (*UploadClient, error) {
	accountID := values["account_id"]
	accessKey := values["access_key_id"]
	secretKey := values["secret_access_key"]
	bucketName := values["bucket"]

	if accountID == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("upload credentials missing in the [upload] section of %s "+
			"(need account_id, access_key_id, secret_access_key, bucket)", configPath)
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
		}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion("auto"),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogRequest|aws.LogResponse|aws.LogRetries))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load upload config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &UploadClient{Client: client, BucketName: bucketName}, nil
}

// UploadLocalFile uploads a file from disk under the given object key.
func (c *UploadClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentTypeFor(filePath)),
	})
	return err
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".js":
		return "text/javascript"
	case ".wasm":
		return "application/wasm"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// fingerprintedNameRe matches the deployable browser artifacts produced by
// post-processing, e.g. python.a1b2c3d4e5f6.wasm.
var fingerprintedNameRe = regexp.MustCompile(`^python\.[0-9a-f]{12}\.(data|wasm|js)$`)

// collectDeployArtifacts lists the fingerprinted browser files plus the
// runtime archive, sorted for deterministic upload order.
func collectDeployArtifacts(cfg *BuildConfig) ([]string, error) {
	browserDir := filepath.Join(cfg.CPython, "builddir", "emscripten-browser")
	entries, err := os.ReadDir(browserDir)
	if err != nil {
		return nil, fmt.Errorf("no browser build to upload: %w", err)
	}

	var artifacts []string
	for _, e := range entries {
		if !e.IsDir() && fingerprintedNameRe.MatchString(e.Name()) {
			artifacts = append(artifacts, filepath.Join(browserDir, e.Name()))
		}
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("no fingerprinted artifacts in %s; run a build first", browserDir)
	}

	archive := filepath.Join(cfg.CPython, runtimeArchiveBase+"."+cfg.ArchiveFormat)
	if _, err := os.Stat(archive); err == nil {
		artifacts = append(artifacts, archive)
	}

	sort.Strings(artifacts)
	return artifacts, nil
}

// handleUploadCommand pushes the deployable artifacts to the configured
// bucket, keyed under the url prefix path component so the fingerprinted
// references in the loader script resolve once served.
func handleUploadCommand(ctx context.Context, args []string) error {
	cfg, err := resolveBuildConfig(args)
	if err != nil {
		return err
	}
	uploadCfg, err := readConfigSection(configPath, "upload")
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", configPath, err)
	}
	client, err := newUploadClient(uploadCfg)
	if err != nil {
		return err
	}

	artifacts, err := collectDeployArtifacts(cfg)
	if err != nil {
		return err
	}

	keyPrefix := cfg.URLPrefix
	if strings.Contains(keyPrefix, "://") {
		if u, err := url.Parse(keyPrefix); err == nil {
			keyPrefix = u.Path
		}
	}
	keyPrefix = strings.Trim(keyPrefix, "/")
	for _, artifact := range artifacts {
		key := path.Join(keyPrefix, filepath.Base(artifact))
		step("Uploading %s -> s3://%s/%s", filepath.Base(artifact), client.BucketName, key)
		if err := client.UploadLocalFile(ctx, key, artifact); err != nil {
			return fmt.Errorf("upload of %s failed: %w", artifact, err)
		}
	}
	step("Uploaded %d artifacts", len(artifacts))
	return nil
}
