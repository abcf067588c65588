// Copyright 2023 Greenmask
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package s3

import (
	"errors"
	"os"
)

const (
	defaultMaxRetries   = 3
	defaultMaxPartSize  = 50 * 1024 * 1024
	defaultStorageClass = "STANDARD"
)

type Config struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint,omitempty"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket" json:"bucket,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix" json:"prefix,omitempty"`
	Region          string `mapstructure:"region" yaml:"region" json:"region,omitempty"`
	StorageClass    string `mapstructure:"storage_class" yaml:"storage_class" json:"storage_class,omitempty"`
	AccessKeyId     string `mapstructure:"access_key_id" yaml:"access_key_id" json:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key" json:"-"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token" json:"-"`
	RoleArn         string `mapstructure:"role_arn" yaml:"role_arn" json:"role_arn,omitempty"`
	SessionName     string `mapstructure:"session_name" yaml:"session_name" json:"session_name,omitempty"`
	MaxRetries      int    `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries,omitempty"`
	CertFile        string `mapstructure:"cert_file" yaml:"cert_file" json:"cert_file,omitempty"`
	MaxPartSize     int64  `mapstructure:"max_part_size" yaml:"max_part_size" json:"max_part_size,omitempty"`
	Concurrency     int    `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style" json:"force_path_style,omitempty"`
	UseAccelerate   bool   `mapstructure:"use_accelerate" yaml:"use_accelerate" json:"use_accelerate,omitempty"`
	NoVerifySsl     bool   `mapstructure:"no_verify_ssl" yaml:"no_verify_ssl" json:"no_verify_ssl,omitempty"`
}

func NewConfig() *Config {
	return &Config{
		StorageClass:   defaultStorageClass,
		ForcePathStyle: true,
		MaxRetries:     defaultMaxRetries,
		MaxPartSize:    defaultMaxPartSize,
		Bucket:         os.Getenv("STORAGE_S3_BUCKET_NAME"),
		Region:         os.Getenv("STORAGE_S3_BUCKET_REGION"),
		Prefix:         os.Getenv("STORAGE_S3_BUCKET_PREFIX"),
	}
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket cannot be empty")
	}
	return nil
}
