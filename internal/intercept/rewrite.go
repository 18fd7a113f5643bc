package intercept

import (
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/kroxy/kroxy/internal/kwire"
)

const (
	apiKeyMetadata        = 3
	apiKeyFindCoordinator = 10
	apiKeyDescribeCluster = 60
)

// AddressMapper maps an upstream broker address to the address the client
// should be told to use instead. An address absent from the mapping must
// be returned unchanged rather than dropped.
type AddressMapper interface {
	Map(upstreamHost string, upstreamPort int32) (downstreamHost string, downstreamPort int32)
}

// PortOffsetMapper is the default address mapping: every broker's host is
// replaced by a fixed downstream host (typically the proxy's own listen
// address) and its port shifted by a constant offset.
type PortOffsetMapper struct {
	DownstreamHost string
	PortOffset     int32
}

func (m PortOffsetMapper) Map(_ string, upstreamPort int32) (string, int32) {
	return m.DownstreamHost, upstreamPort + m.PortOffset
}

// BrokerAddressRewrite rewrites broker/coordinator addresses in Metadata,
// DescribeCluster, and FindCoordinator responses so a client is always
// told to reconnect to the proxy, never directly to the real broker.
type BrokerAddressRewrite struct {
	Mapper AddressMapper
}

// NewBrokerAddressRewrite builds the interceptor with the given mapper.
func NewBrokerAddressRewrite(mapper AddressMapper) *BrokerAddressRewrite {
	return &BrokerAddressRewrite{Mapper: mapper}
}

func (b *BrokerAddressRewrite) ShouldDecodeRequest(apiKey, apiVersion int16) bool {
	return false
}

func (b *BrokerAddressRewrite) ShouldDecodeResponse(apiKey, apiVersion int16) bool {
	switch apiKey {
	case apiKeyMetadata, apiKeyFindCoordinator, apiKeyDescribeCluster:
		return true
	default:
		return false
	}
}

func (b *BrokerAddressRewrite) HandleResponse(ctx *Context, f kwire.DecodedResponseFrame) (kwire.DecodedResponseFrame, error) {
	switch resp := f.Body.(type) {
	case *kmsg.MetadataResponse:
		for i := range resp.Brokers {
			br := &resp.Brokers[i]
			host, port := b.Mapper.Map(br.Host, br.Port)
			br.Host, br.Port = host, port
		}
	case *kmsg.FindCoordinatorResponse:
		if resp.Host != "" {
			host, port := b.Mapper.Map(resp.Host, resp.Port)
			resp.Host, resp.Port = host, port
		}
		for i := range resp.Coordinators {
			c := &resp.Coordinators[i]
			host, port := b.Mapper.Map(c.Host, c.Port)
			c.Host, c.Port = host, port
		}
	case *kmsg.DescribeClusterResponse:
		for i := range resp.Brokers {
			br := &resp.Brokers[i]
			host, port := b.Mapper.Map(br.Host, br.Port)
			br.Host, br.Port = host, port
		}
	}
	return f, nil
}
