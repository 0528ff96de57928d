package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/depotd/internal/actions"
	"github.com/danmuck/depotd/internal/document"
	"github.com/danmuck/depotd/internal/protocol"
	"github.com/danmuck/depotd/internal/reply"
)

var errServerRefused = errors.New("server refused the request")

func newRootCommand() *cobra.Command {
	var addr string
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "depotctl",
		Short:         "Operator client for the depotd content daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:12523", "depotd protocol address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(newSendCommand(&addr, &timeout))
	root.AddCommand(newLicenseCommand(&addr, &timeout))
	root.AddCommand(newUploadCommand(&addr, &timeout))
	return root
}

func newSendCommand(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "send <request-file>",
		Short: "Send a raw request document from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			// Reject locally what the server would refuse anyway.
			if _, err := document.Unmarshal(body); err != nil {
				return fmt.Errorf("request file is not a valid document: %w", err)
			}
			return roundTrip(cmd, *addr, *timeout, body)
		},
	}
}

func newLicenseCommand(addr *string, timeout *time.Duration) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Fetch the content distribution license",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc := document.New()
			req := doc.AddChild(actions.KindRequestLicense)
			if language != "" {
				req.SetAttr("language", language)
			}
			return roundTrip(cmd, *addr, *timeout, document.Marshal(doc))
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "license language code")
	return cmd
}

func newUploadCommand(addr *string, timeout *time.Duration) *cobra.Command {
	var name, version, uploader string
	var size uint64
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Request an upload slot for a content package",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc := document.New()
			req := doc.AddChild(actions.KindRequestUpload)
			req.SetAttr("name", name)
			req.SetAttr("version", version)
			req.SetAttr("uploader", uploader)
			req.AddChild("content").SetAttr("size", strconv.FormatUint(size, 10))
			return roundTrip(cmd, *addr, *timeout, document.Marshal(doc))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "package name")
	cmd.Flags().StringVar(&version, "version", "", "package version")
	cmd.Flags().StringVar(&uploader, "uploader", "", "uploader identity")
	cmd.Flags().Uint64Var(&size, "size", 0, "declared content size in bytes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("uploader")
	return cmd
}

// roundTrip performs the one-request-per-connection cycle: frame out,
// reply in, connection done.
func roundTrip(cmd *cobra.Command, addr string, timeout time.Duration, body []byte) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := protocol.WriteFrame(conn, body); err != nil {
		return err
	}
	raw, err := protocol.ReadFrame(conn, protocol.DefaultLimits())
	if err != nil {
		return err
	}
	parsed, err := reply.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Status != reply.StatusOK {
		return fmt.Errorf("%w: %s", errServerRefused, parsed.Message)
	}
	cmd.Print(string(document.Marshal(parsed.Payload)))
	return nil
}
