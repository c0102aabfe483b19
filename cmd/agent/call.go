package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/discovery"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// maxCallMediaBytes caps files attached from the command line.
const maxCallMediaBytes = 25 << 20

var videoFormats = map[string]bool{
	"mp4": true, "mov": true, "mkv": true, "webm": true,
	"flv": true, "mpeg": true, "mpg": true, "wmv": true, "three_gp": true,
}

// callOptions is the parsed "call" command line.
type callOptions struct {
	Destination string
	Task        string
	ImagePath   string
	VideoPath   string
	URI         string
	UserID      string
	SessionID   string
}

func parseCallArgs(args []string) (callOptions, error) {
	var opts callOptions
	var words []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		var target *string
		switch name {
		case "--image":
			target = &opts.ImagePath
		case "--video":
			target = &opts.VideoPath
		case "--uri":
			target = &opts.URI
		case "--user":
			target = &opts.UserID
		case "--session":
			target = &opts.SessionID
		default:
			if strings.HasPrefix(arg, "--") {
				return opts, usageError{"unknown flag: " + arg}
			}
			words = append(words, arg)
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, usageError{name + " needs a value"}
			}
			i++
			value = args[i]
		}
		*target = value
	}

	if len(words) < 2 {
		return opts, usageError{"usage: agentcore call <agent> <task...> [--image PATH|--video PATH|--uri URI]"}
	}
	opts.Destination = words[0]
	opts.Task = strings.Join(words[1:], " ")

	set := 0
	for _, s := range []string{opts.ImagePath, opts.VideoPath, opts.URI} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		return opts, usageError{"only one of --image, --video or --uri may be given"}
	}
	return opts, nil
}

// media loads the attachment named on the command line, if any.
func (o callOptions) media() (*domain.Media, error) {
	switch {
	case o.ImagePath != "":
		return mediaFromFile(o.ImagePath, domain.MediaImage)
	case o.VideoPath != "":
		return mediaFromFile(o.VideoPath, domain.MediaVideo)
	case o.URI != "":
		return mediaFromURI(o.URI)
	}
	return nil, nil
}

func mediaFromFile(p string, kind domain.MediaKind) (*domain.Media, error) {
	format := a2a.NormalizeFormat(strings.TrimPrefix(filepath.Ext(p), "."))
	if format == "" {
		return nil, fmt.Errorf("%s: cannot infer format from file extension", p)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxCallMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if len(data) > maxCallMediaBytes {
		return nil, fmt.Errorf("%s is larger than %d bytes", p, maxCallMediaBytes)
	}
	return &domain.Media{
		Kind:   kind,
		Format: format,
		Base64: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// mediaFromURI infers kind and format from the object key's extension.
func mediaFromURI(uri string) (*domain.Media, error) {
	format := a2a.NormalizeFormat(strings.TrimPrefix(path.Ext(uri), "."))
	if format == "" {
		return nil, fmt.Errorf("%s: cannot infer format from extension", uri)
	}
	kind := domain.MediaImage
	if videoFormats[format] {
		kind = domain.MediaVideo
	}
	return &domain.Media{Kind: kind, Format: format, URI: uri}, nil
}

// runCall sends one task and prints the answer to out.
func runCall(ctx context.Context, opts callOptions, out io.Writer) error {
	if !isKnownAgent(opts.Destination) {
		return usageError{fmt.Sprintf("unknown agent %q (want one of %s)", opts.Destination, strings.Join(discovery.KnownAgents(), ", "))}
	}
	media, err := opts.media()
	if err != nil {
		return err
	}

	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	cfg.Agent.Name = "cli"
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	callOpts := []a2a.CallOption{a2a.WithUser(opts.UserID, opts.SessionID)}
	if media != nil {
		callOpts = append(callOpts, a2a.WithMedia(*media))
	}
	ans, err := rt.client.Call(ctx, opts.Destination, opts.Task, callOpts...)
	if err != nil {
		return fmt.Errorf("%s [%s]: %w", opts.Destination, domain.ErrorCodeOf(err), err)
	}
	_, err = fmt.Fprintln(out, ans.Text)
	return err
}

func isKnownAgent(name string) bool {
	for _, n := range discovery.KnownAgents() {
		if n == name {
			return true
		}
	}
	return false
}
