package upload

import (
	"context"
	"time"
)

// An Uploader publishes repository files to a remote location.
// files are paths below dir; the remote layout mirrors dir.
type Uploader interface {
	Name() string
	Sync(ctx context.Context, dir string, files []string) error
}

// Settings selects and configures the upload backends.
type Settings struct {
	Backends []string `mapstructure:"backends"`

	Rsync RsyncSettings `mapstructure:"rsync"`
	S3    S3Settings    `mapstructure:"s3"`
	SFTP  SFTPSettings  `mapstructure:"sftp"`
	Push  PushSettings  `mapstructure:"push"`
}

// RsyncSettings configures the rsync backend.
type RsyncSettings struct {
	Command string   `mapstructure:"command"`
	Target  string   `mapstructure:"target"`
	Args    []string `mapstructure:"args"`
}

// S3Settings configures the s3 backend.  Credentials come from the
// default AWS chain.
type S3Settings struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// SFTPSettings configures the sftp backend.
type SFTPSettings struct {
	Address    string        `mapstructure:"address"`
	User       string        `mapstructure:"user"`
	KeyFile    string        `mapstructure:"key_file"`
	Password   string        `mapstructure:"password"`
	KnownHosts string        `mapstructure:"known_hosts"`
	Dir        string        `mapstructure:"dir"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PushSettings configures the push backend.  URL is where the
// coordinator mounts its reciever.
type PushSettings struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}
