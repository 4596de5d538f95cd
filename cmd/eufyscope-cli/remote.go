package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/eufyscope/internal/core"
	"github.com/joshp123/eufyscope/internal/investigation"
	"github.com/joshp123/eufyscope/internal/rpc"
)

const dialTimeout = 10 * time.Second

// withConn dials the daemon and runs fn before closing the connection.
func (a *app) withConn(cmd *cobra.Command, fn func(ctx context.Context, conn *grpc.ClientConn) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
	defer cancel()

	addr := resolveAddr(a.config.Addr, configSearchPaths())
	a.logger.Debug("dialing daemon", zap.String("addr", addr))
	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	return fn(ctx, conn)
}

func (a *app) pluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect plugins loaded by the daemon",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConn(cmd, func(ctx context.Context, conn *grpc.ClientConn) error {
				var resp rpc.ListPluginsResponse
				if err := rpc.Invoke(ctx, conn, rpc.ListPluginsMethod, struct{}{}, &resp); err != nil {
					return fmt.Errorf("list plugins: %w", err)
				}
				return a.out(cmd).emit(resp.Plugins, func() [][]string {
					rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
					for _, p := range resp.Plugins {
						rows = append(rows, []string{p.PluginID, p.DisplayName, p.Version, p.Status})
					}
					return rows
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "describe <plugin>",
		Short: "Show one plugin's services, dashboards and agent notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConn(cmd, func(ctx context.Context, conn *grpc.ClientConn) error {
				var list rpc.ListPluginsResponse
				if err := rpc.Invoke(ctx, conn, rpc.ListPluginsMethod, struct{}{}, &list); err != nil {
					return fmt.Errorf("list plugins: %w", err)
				}
				options := make(map[string]string, len(list.Plugins))
				for _, p := range list.Plugins {
					options[p.DisplayName] = p.PluginID
				}
				id, err := resolveNamedID("plugin", args[0], options)
				if err != nil {
					return err
				}

				var resp rpc.DescribePluginResponse
				if err := rpc.Invoke(ctx, conn, rpc.DescribePluginMethod, rpc.DescribePluginRequest{PluginID: id}, &resp); err != nil {
					return fmt.Errorf("describe plugin: %w", err)
				}
				if resp.Plugin == nil {
					return fmt.Errorf("plugin %q not found", id)
				}
				out := a.out(cmd)
				if out.json {
					return out.printJSON(resp.Plugin)
				}
				return printDescriptor(out.w, resp.Plugin)
			})
		},
	})
	return cmd
}

func printDescriptor(w io.Writer, p *core.PluginDescriptor) error {
	fmt.Fprintf(w, "id: %s\n", p.PluginID)
	fmt.Fprintf(w, "name: %s\n", p.DisplayName)
	fmt.Fprintf(w, "version: %s\n", p.Version)
	fmt.Fprintf(w, "status: %s\n", p.Status)
	if p.HealthMessage != "" {
		fmt.Fprintf(w, "health: %s\n", p.HealthMessage)
	}
	fmt.Fprintln(w, "services:")
	for _, svc := range p.Services {
		fmt.Fprintf(w, "  - %s\n", svc)
	}
	fmt.Fprintln(w, "dashboards:")
	for _, dash := range p.Dashboards {
		fmt.Fprintf(w, "  - %s (%s)\n", dash.Name, dash.Path)
	}
	windows := make([]string, 0, len(p.RateLimits))
	for window := range p.RateLimits {
		windows = append(windows, window)
	}
	sort.Strings(windows)
	for _, window := range windows {
		fmt.Fprintf(w, "rate_limit.%s: %d\n", window, p.RateLimits[window])
	}
	if p.CacheTTL != "" {
		fmt.Fprintf(w, "cache_ttl: %s\n", p.CacheTTL)
	}
	fmt.Fprintln(w, "agents_md:")
	_, err := fmt.Fprintln(w, p.AgentsMD)
	return err
}

func (a *app) servicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List gRPC services exposed by the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConn(cmd, func(ctx context.Context, conn *grpc.ClientConn) error {
				client := grpcreflect.NewClientAuto(ctx, conn)
				defer client.Reset()
				services, err := grpcurl.ListServices(grpcurl.DescriptorSourceFromServer(ctx, client))
				if err != nil {
					return fmt.Errorf("list services: %w", err)
				}
				return a.out(cmd).emit(services, func() [][]string {
					rows := make([][]string, 0, len(services))
					for _, s := range services {
						rows = append(rows, []string{s})
					}
					return rows
				})
			})
		},
	}
}

func (a *app) callCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "call <service/method>",
		Short: "Call a daemon method with a JSON body (--data or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.TrimSpace(data)
			if body == "" && !isTerminal(cmd.InOrStdin()) {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				body = strings.TrimSpace(string(raw))
			}
			if body == "" {
				body = "{}"
			}
			req := map[string]any{}
			if err := json.Unmarshal([]byte(body), &req); err != nil {
				return fmt.Errorf("parse request: %w", err)
			}
			method := "/" + strings.TrimPrefix(args[0], "/")
			return a.withConn(cmd, func(ctx context.Context, conn *grpc.ClientConn) error {
				resp := map[string]any{}
				if err := rpc.Invoke(ctx, conn, method, req, &resp); err != nil {
					return fmt.Errorf("invoke %s: %w", method, err)
				}
				return a.out(cmd).printJSON(resp)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	return cmd
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func (a *app) remoteScanCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "remote-scan <file|->",
		Short: "Scan a capture with the daemon's analysis service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blobs, err := loadBlobs(cmd.InOrStdin(), args[0], key)
			if err != nil {
				return err
			}
			req := rpc.ScanRequest{Blobs: blobs}
			if cmd.Flags().Changed("percent-low") || cmd.Flags().Changed("percent-high") {
				r := a.config.percentRange()
				req.Range = &r
			}
			return a.withConn(cmd, func(ctx context.Context, conn *grpc.ClientConn) error {
				var resp rpc.ScanResponse
				if err := rpc.Invoke(ctx, conn, rpc.ScanMethod, req, &resp); err != nil {
					return fmt.Errorf("scan: %w", err)
				}
				return a.out(cmd).emit(resp.Scans, func() [][]string {
					return scanRows(resp.Scans)
				})
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", investigation.AccessoryKey, "key for bare base64 input")
	return cmd
}
