package EVMRPC

import (
	"net/http"
	"sync"

	"github.com/ybbus/jsonrpc"
)

// ProbeProviders asks every configured provider for its block number and
// splits them into healthy and unhealthy endpoints.
func (u *Utilities) ProbeProviders() (healthy, unhealthy []string) {
	providers := u.cfg.Providers()
	ok := make([]bool, len(providers))

	var wg sync.WaitGroup
	for i, url := range providers {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			rpcClient := jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
				HTTPClient: &http.Client{Timeout: u.cfg.RequestTimeout},
			})
			response, err := rpcClient.Call("eth_blockNumber")
			if err != nil {
				u.logger.Warnf("Provider %s unhealthy: %s", url, err.Error())
				return
			}
			if response.Error != nil {
				u.logger.Warnf("Provider %s unhealthy: %s", url, response.Error.Error())
				return
			}
			ok[i] = true
		}(i, url)
	}
	wg.Wait()

	for i, url := range providers {
		if ok[i] {
			healthy = append(healthy, url)
		} else {
			unhealthy = append(unhealthy, url)
		}
	}
	return healthy, unhealthy
}
