package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Store guarda os chunks em um bucket S3, um prefixo por
// transferência ("<transferID>/chunk_000000", ...)
type S3Store struct {
	client     *s3.Client
	bucketName string
}

// NewS3Store cria um novo store S3
func NewS3Store(client *s3.Client, bucketName string) (*S3Store, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("nome do bucket não pode ser vazio")
	}
	return &S3Store{
		client:     client,
		bucketName: bucketName,
	}, nil
}

func (s *S3Store) chunkKey(transferID uuid.UUID, index int) string {
	return fmt.Sprintf("%s/chunk_%06d", transferID, index)
}

func (s *S3Store) EnsureTransfer(ctx context.Context, transferID uuid.UUID) (string, error) {
	// S3 não tem diretórios; a área passa a existir com o primeiro chunk
	return fmt.Sprintf("s3://%s/%s/", s.bucketName, transferID), nil
}

func (s *S3Store) HasChunk(ctx context.Context, transferID uuid.UUID, index int) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.chunkKey(transferID, index)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("falha ao verificar chunk %d no S3: %w", index, err)
	}
	return true, nil
}

func (s *S3Store) WriteChunk(ctx context.Context, transferID uuid.UUID, index int, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.chunkKey(transferID, index)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("falha ao gravar chunk %d no S3: %w", index, err)
	}
	return nil
}

func (s *S3Store) ReadChunk(ctx context.Context, transferID uuid.UUID, index int) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.chunkKey(transferID, index)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("chunk %d: %w", index, ErrChunkNotFound)
		}
		return nil, fmt.Errorf("falha ao ler chunk %d do S3: %w", index, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("falha ao ler corpo do chunk %d: %w", index, err)
	}
	return data, nil
}

func (s *S3Store) DeleteTransfer(ctx context.Context, transferID uuid.UUID) error {
	return s.DeleteArea(ctx, transferID.String())
}

func (s *S3Store) ListAreas(ctx context.Context) ([]string, error) {
	areas := []string{}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucketName),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("falha ao listar áreas no S3: %w", err)
		}
		for _, prefix := range page.CommonPrefixes {
			if prefix.Prefix == nil {
				continue
			}
			// "abc123/" -> "abc123"
			name := *prefix.Prefix
			areas = append(areas, name[:len(name)-1])
		}
	}
	return areas, nil
}

func (s *S3Store) DeleteArea(ctx context.Context, name string) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(name + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("falha ao listar objetos da área '%s': %w", name, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucketName),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("falha ao remover objetos da área '%s': %w", name, err)
		}
	}
	return nil
}
