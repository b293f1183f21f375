package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	config "github.com/merchantops/reconcile/internal/config"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPClient implements Client over an SSH connection.
type SFTPClient struct {
	conn   *ssh.Client
	client *sftp.Client
}

// NewSFTPClient dials the configured host and opens an SFTP session.
// Private key authentication is preferred when a key path is configured,
// with password auth as fallback.
func NewSFTPClient(cfg config.RemoteConfig) (*SFTPClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("remote host is required")
	}

	var auth []ssh.AuthMethod
	if cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key %s: %w", cfg.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication method configured")
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         config.Duration(cfg.Timeout, 0),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open sftp session: %w", err)
	}

	return &SFTPClient{
		conn:   conn,
		client: client,
	}, nil
}

func (s *SFTPClient) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		entries = append(entries, Entry{
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return entries, nil
}

func (s *SFTPClient) Download(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := s.client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to copy %s: %w", remotePath, err)
	}

	return nil
}

func (s *SFTPClient) Move(ctx context.Context, remotePath, category string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := CategoryPath(remotePath, category)
	if dest == remotePath {
		// Already sorted into this category
		return nil
	}

	if err := s.client.MkdirAll(path.Dir(dest)); err != nil {
		return fmt.Errorf("failed to create remote directory %s: %w", path.Dir(dest), err)
	}

	if err := s.client.PosixRename(remotePath, dest); err != nil {
		// Fall back to a plain rename for servers without the extension
		if err := s.client.Rename(remotePath, dest); err != nil {
			return fmt.Errorf("failed to move %s to %s: %w", remotePath, dest, err)
		}
	}

	return nil
}

func (s *SFTPClient) Close() error {
	if err := s.client.Close(); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}
