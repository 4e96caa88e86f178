package bootloader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Store fetches firmware and tool artifacts from S3 using the shared
// credentials profile named in the configuration.
type S3Store struct {
	client     *s3.Client
	downloader *manager.Downloader
}

// NewS3Store builds an S3-backed artifact store for the given
// credentials profile.
func NewS3Store(profile string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithSharedConfigProfile(profile))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS profile %q", profile)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client:     client,
		downloader: manager.NewDownloader(client),
	}, nil
}

// Download fetches object from bucket into the local file dest, creating
// parent directories as needed.
func (s *S3Store) Download(object, bucket, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &DownloadError{Bucket: bucket, Object: object, Dest: dest, Err: err}
	}

	f, err := os.Create(dest)
	if err != nil {
		return &DownloadError{Bucket: bucket, Object: object, Dest: dest, Err: err}
	}
	defer f.Close()

	_, err = s.downloader.Download(context.Background(), f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		// Don't leave a zero-byte file masquerading as a cached
		// artifact.
		f.Close()
		os.Remove(dest)
		return &DownloadError{Bucket: bucket, Object: object, Dest: dest, Err: err}
	}
	return nil
}

// CheckCredentials verifies that the AWS credentials file exists and
// that the configured profile can actually read from the firmware
// bucket. An invalid key only surfaces on a real request, so a known
// connection-check object is fetched to a throwaway file.
func CheckCredentials(cfg Config, store Store) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return errors.Wrap(err, "cannot determine home directory")
	}
	credentials := filepath.Join(home, ".aws", "credentials")
	if _, err := os.Stat(credentials); err != nil {
		return &NoCredentialsError{Path: credentials}
	}

	tmp, err := os.CreateTemp("", "bootload-connection-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := store.Download(cfg.ConnectionFile, cfg.FirmwareBucket, tmp.Name()); err != nil {
		return errors.Wrapf(err, "access check against bucket %s failed; keys may be invalid or expired", cfg.FirmwareBucket)
	}
	return nil
}

// Inventory is the firmware available in the store, keyed by version,
// then hardware revision, holding the device types published for each.
type Inventory map[string]map[string][]string

// Versions returns the firmware versions in the inventory, sorted.
func (inv Inventory) Versions() []string {
	versions := make([]string, 0, len(inv))
	for v := range inv {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Devices returns every device type in the inventory, sorted and
// deduplicated.
func (inv Inventory) Devices() []string {
	seen := map[string]bool{}
	for _, hardware := range inv {
		for _, devices := range hardware {
			for _, d := range devices {
				seen[d] = true
			}
		}
	}
	devices := make([]string, 0, len(seen))
	for d := range seen {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	return devices
}

// Hardware returns every hardware revision in the inventory, sorted and
// deduplicated.
func (inv Inventory) Hardware() []string {
	seen := map[string]bool{}
	for _, hardware := range inv {
		for hw := range hardware {
			seen[hw] = true
		}
	}
	revisions := make([]string, 0, len(seen))
	for hw := range seen {
		revisions = append(revisions, hw)
	}
	sort.Strings(revisions)
	return revisions
}

// ListFirmware walks the firmware bucket and returns its contents as an
// Inventory.
func (s *S3Store) ListFirmware(bucket string) (Inventory, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list bucket %s", bucket)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return parseInventory(keys), nil
}

// parseInventory groups firmware object keys of the form
// {version}/{deviceType}/{hardware}/{file}. Keys with any other shape
// (the connection-check object, stray uploads) are skipped.
func parseInventory(keys []string) Inventory {
	inv := Inventory{}
	for _, key := range keys {
		parts := strings.Split(key, "/")
		if len(parts) != 4 {
			continue
		}
		version, device, hardware := parts[0], parts[1], parts[2]

		if inv[version] == nil {
			inv[version] = map[string][]string{}
		}
		devices := inv[version][hardware]
		found := false
		for _, d := range devices {
			if d == device {
				found = true
				break
			}
		}
		if !found {
			inv[version][hardware] = append(devices, device)
			sort.Strings(inv[version][hardware])
		}
	}
	return inv
}
