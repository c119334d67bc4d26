// Package cloud captures machine images from running lab instances.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/labforge/labctl/internal/runner"
)

// ImageRequest describes an image to capture.
type ImageRequest struct {
	InstanceID  string
	Name        string
	Description string
	Tags        map[string]string
}

// ImageCreator creates an image and returns its id once the provider has accepted it.
type ImageCreator interface {
	CreateImage(ctx context.Context, req ImageRequest) (string, error)
}

// CLI creates images with the aws command-line tool.
type CLI struct {
	invoker runner.Invoker
	region  string
}

func NewCLI(invoker runner.Invoker, region string) *CLI {
	return &CLI{invoker: invoker, region: region}
}

type createImageOutput struct {
	ImageID string `json:"ImageId"`
}

func (c *CLI) CreateImage(ctx context.Context, req ImageRequest) (string, error) {
	args := []string{
		"ec2", "create-image",
		"--instance-id", req.InstanceID,
		"--name", req.Name,
		"--no-reboot",
		"--output", "json",
	}
	if req.Description != "" {
		args = append(args, "--description", req.Description)
	}
	if c.region != "" {
		args = append(args, "--region", c.region)
	}
	if spec := cliTagSpec(req.Tags); spec != "" {
		args = append(args, "--tag-specifications", spec)
	}

	res, err := c.invoker.Invoke(ctx, runner.Command{Name: "aws", Args: args, Quiet: true})
	if err != nil {
		return "", err
	}
	return parseImageID([]byte(res.Stdout))
}

func parseImageID(data []byte) (string, error) {
	var out createImageOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to parse create-image response: %w", err)
	}
	if out.ImageID == "" {
		return "", errors.New("create-image response contained no ImageId")
	}
	return out.ImageID, nil
}

func cliTagSpec(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	var parts []string
	for _, k := range sortedKeys(tags) {
		parts = append(parts, fmt.Sprintf("{Key=%s,Value=%s}", k, tags[k]))
	}
	return "ResourceType=image,Tags=[" + strings.Join(parts, ",") + "]"
}

// ec2API is the subset of the EC2 client used by SDK.
type ec2API interface {
	CreateImage(ctx context.Context, params *ec2.CreateImageInput, optFns ...func(*ec2.Options)) (*ec2.CreateImageOutput, error)
}

// SDK creates images through the AWS SDK.
type SDK struct {
	client ec2API
}

// NewSDK loads the default AWS configuration for region.
func NewSDK(ctx context.Context, region string) (*SDK, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return &SDK{client: ec2.NewFromConfig(cfg)}, nil
}

func (s *SDK) CreateImage(ctx context.Context, req ImageRequest) (string, error) {
	input := &ec2.CreateImageInput{
		InstanceId: aws.String(req.InstanceID),
		Name:       aws.String(req.Name),
		NoReboot:   aws.Bool(true),
	}
	if req.Description != "" {
		input.Description = aws.String(req.Description)
	}
	if len(req.Tags) > 0 {
		var tags []ec2types.Tag
		for _, k := range sortedKeys(req.Tags) {
			tags = append(tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(req.Tags[k])})
		}
		input.TagSpecifications = []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeImage,
			Tags:         tags,
		}}
	}

	// Single attempt: a request that times out may still have been accepted,
	// and a repeat would capture a second image.
	out, err := s.client.CreateImage(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("create image from %s: %s: %s: %w", req.InstanceID, apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
		}
		return "", fmt.Errorf("create image from %s: %w", req.InstanceID, err)
	}
	id := aws.ToString(out.ImageId)
	if id == "" {
		return "", errors.New("create image returned no image id")
	}
	return id, nil
}
