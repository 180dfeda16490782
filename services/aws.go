package services

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "ap-south-1"

// LoadAWSConfig loads the default credential chain for region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		region = defaultRegion
	}
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}
