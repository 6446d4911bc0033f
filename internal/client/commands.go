package client

import (
	"context"
	"fmt"

	"github.com/avaropoint/camlink/internal/protocol"
)

// Heartbeat sends a heartbeat and waits for the ack.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.Request(ctx, protocol.CmdHeartbeat, nil)
	return err
}

func (c *Client) Status(ctx context.Context) (protocol.Status, error) {
	f, err := c.Request(ctx, protocol.CmdQueryStatus, nil)
	if err != nil {
		return 0, err
	}
	return protocol.ParseStatus(f.Payload)
}

func (c *Client) Params(ctx context.Context) (protocol.Params, error) {
	f, err := c.Request(ctx, protocol.CmdQueryParams, nil)
	if err != nil {
		return protocol.Params{}, err
	}
	return protocol.ParseParams(f.Payload)
}

func (c *Client) Resolutions(ctx context.Context) ([]protocol.Resolution, error) {
	f, err := c.Request(ctx, protocol.CmdQueryResolutions, nil)
	if err != nil {
		return nil, err
	}
	return protocol.ParseResolutions(f.Payload)
}

func (c *Client) GainAuto(ctx context.Context) (bool, error) {
	f, err := c.Request(ctx, protocol.CmdQueryGainAuto, nil)
	if err != nil {
		return false, err
	}
	return protocol.ParseGainAuto(f.Payload)
}

// Capture takes a still and returns the filename the server saved it as.
func (c *Client) Capture(ctx context.Context) (string, error) {
	done, cancel, err := c.await(protocol.NotifyCaptureComplete)
	if err != nil {
		return "", err
	}
	if _, err := c.Request(ctx, protocol.CmdCaptureSingle, nil); err != nil {
		cancel()
		return "", err
	}
	f, err := c.wait(ctx, done)
	if err != nil {
		cancel()
		return "", fmt.Errorf("capture notice: %w", err)
	}
	return protocol.ParseName(f.Payload)
}

// RecordStart begins a recording. The completion notice arrives later
// through Handlers.OnRecordComplete or AwaitRecordComplete.
func (c *Client) RecordStart(ctx context.Context, req protocol.RecordStartRequest) error {
	_, err := c.Request(ctx, protocol.CmdRecordStart, req.Payload())
	return err
}

func (c *Client) RecordStop(ctx context.Context) error {
	_, err := c.Request(ctx, protocol.CmdRecordStop, nil)
	return err
}

// RecordStopAndWait stops a recording and returns the video filename.
func (c *Client) RecordStopAndWait(ctx context.Context) (string, error) {
	done, cancel, err := c.await(protocol.NotifyRecordComplete)
	if err != nil {
		return "", err
	}
	if err := c.RecordStop(ctx); err != nil {
		cancel()
		return "", err
	}
	f, err := c.wait(ctx, done)
	if err != nil {
		cancel()
		return "", fmt.Errorf("record notice: %w", err)
	}
	return protocol.ParseName(f.Payload)
}

// AwaitRecordComplete blocks until the next record completion notice. It
// is not bounded by the request timeout.
func (c *Client) AwaitRecordComplete(ctx context.Context) (string, error) {
	done, cancel, err := c.await(protocol.NotifyRecordComplete)
	if err != nil {
		return "", err
	}
	select {
	case f, ok := <-done:
		if !ok {
			return "", ErrNotConnected
		}
		return protocol.ParseName(f.Payload)
	case <-ctx.Done():
		cancel()
		return "", ctx.Err()
	case <-c.ctx.Done():
		return "", ErrClosed
	}
}

func (c *Client) PreviewStart(ctx context.Context, req protocol.PreviewStartRequest) error {
	_, err := c.Request(ctx, protocol.CmdPreviewStart, req.Payload())
	return err
}

func (c *Client) PreviewStop(ctx context.Context) error {
	_, err := c.Request(ctx, protocol.CmdPreviewStop, nil)
	return err
}

func (c *Client) SetExposure(ctx context.Context, req protocol.ExposureRequest) error {
	_, err := c.Request(ctx, protocol.CmdSetExposure, req.Payload())
	return err
}

func (c *Client) SetWhiteBalance(ctx context.Context, req protocol.WhiteBalanceRequest) error {
	_, err := c.Request(ctx, protocol.CmdSetWhiteBalance, req.Payload())
	return err
}

// SetGain sends a 0..protocol.GainScale gain value.
func (c *Client) SetGain(ctx context.Context, value uint16) error {
	_, err := c.Request(ctx, protocol.CmdSetGain, protocol.GainRequest{Value: value}.Payload())
	return err
}

func (c *Client) SetGainAuto(ctx context.Context, enabled bool) error {
	_, err := c.Request(ctx, protocol.CmdSetGainAuto, protocol.GainAutoRequest{Enabled: enabled}.Payload())
	return err
}

func (c *Client) SetResolution(ctx context.Context, width, height uint16) error {
	_, err := c.Request(ctx, protocol.CmdSetResolution, protocol.ResolutionRequest{Width: width, Height: height}.Payload())
	return err
}

func (c *Client) SetFrameRate(ctx context.Context, req protocol.FrameRateRequest) error {
	_, err := c.Request(ctx, protocol.CmdSetFrameRate, req.Payload())
	return err
}

func (c *Client) SetPixelFormat(ctx context.Context, index uint8) error {
	_, err := c.Request(ctx, protocol.CmdSetPixelFormat, protocol.PixelFormatRequest{Index: index}.Payload())
	return err
}
