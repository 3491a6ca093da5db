package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config は S3 互換ストレージへの接続設定です。
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // S3互換サービス（MinIO等）のエンドポイント。空ならAWS標準
	AccessKey string // 空の場合は既定の認証チェーンを使用
	SecretKey string
}

// S3 は S3 互換のオブジェクトストレージ実装です。
type S3 struct {
	client *s3.Client
	bucket string
	// publicBase は Save が返すURLのベース（末尾スラッシュなし）
	publicBase string
}

// NewS3 は S3 クライアントを構築します。MinIO などの互換サービス向けに
// パススタイルのアドレッシングを使用します。
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicBase := fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	if cfg.Endpoint != "" {
		publicBase = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}

	return &S3{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: publicBase,
	}, nil
}

// Save はオブジェクトをアップロードし、公開URLを返します。
func (s *S3) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", name, err)
	}
	return s.publicBase + "/" + name, nil
}

// Delete はオブジェクトを削除します。
func (s *S3) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", name, err)
	}
	return nil
}

// NameFromURL は Save が返したURLからオブジェクトキーを逆引きします。
func (s *S3) NameFromURL(fileURL string) string {
	prefix := s.publicBase + "/"
	if !strings.HasPrefix(fileURL, prefix) {
		return ""
	}
	return strings.TrimPrefix(fileURL, prefix)
}
