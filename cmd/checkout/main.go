// Command checkout submits a shopper's cart to the storefront API.
//
// The cart comes from a JSON file of lines or from a redis cart session:
//
//	checkout -api http://localhost:8080 -cart cart.json \
//	    -name "Abebe Kebede" -phone 0911000000 -address "Bole" -region "Addis Ababa"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"storefront/config"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/util"

	"go.uber.org/zap"
)

func main() {
	var (
		apiURL    = flag.String("api", "http://localhost:8080", "storefront API base URL")
		cartFile  = flag.String("cart", "", "JSON file holding cart lines")
		session   = flag.String("session", "", "redis cart session to restore instead of -cart")
		redisAddr = flag.String("redis", "", "redis address for -session (defaults to REDIS_ADDR)")
		lang      = flag.String("lang", "en", "Accept-Language tag sent to the API")
		name      = flag.String("name", "", "customer full name")
		phone     = flag.String("phone", "", "customer phone")
		address   = flag.String("address", "", "delivery address")
		region    = flag.String("region", "", "delivery region")
		notes     = flag.String("notes", "", "delivery notes")
		timeout   = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	cfg := config.Load()
	if err := util.InitLogger(util.LogOptions{
		Env:     cfg.Server.Env,
		Service: "storefront-checkout",
		Level:   cfg.Server.LogLevel,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	shopperCart, closeCart, err := loadCart(ctx, *cartFile, *session, *redisAddr, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to load cart", zap.Error(err))
	}
	defer closeCart()

	client := checkout.NewHTTPOrderClient(*apiURL, checkout.WithLanguage(*lang))

	regions, err := client.FetchRegions(ctx)
	if err != nil {
		logger.Warn("Could not fetch regions, using configured list", zap.Error(err))
		regions = cfg.Business.Regions
	}

	orchestrator := checkout.New(shopperCart, client, models.NewRegionSet(regions))

	totals := shopperCart.Totals()
	fmt.Printf("Submitting %d item(s), total %s\n", totals.TotalItems, totals.TotalPrice.StringFixed(2))

	conf, err := orchestrator.Submit(ctx, models.CustomerInfo{
		FullName: *name,
		Phone:    *phone,
		Address:  *address,
		Region:   *region,
		Notes:    *notes,
	})

	var verr *checkout.ValidationError
	switch {
	case err == nil:
		fmt.Printf("Order placed: %s\n", conf.OrderID)
	case errors.Is(err, checkout.ErrEmptyCart):
		fmt.Fprintln(os.Stderr, "Your cart is empty. Add products before checking out.")
		os.Exit(2)
	case errors.As(err, &verr):
		fmt.Fprintln(os.Stderr, "Please correct the following:")
		printFields(verr.Fields)
		if _, ok := verr.Fields["region"]; ok {
			fmt.Fprintf(os.Stderr, "  regions: %v\n", regions)
		}
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Checkout failed, your cart was kept: %v\n", err)
		os.Exit(1)
	}
}

// loadCart builds the shopper's cart from a file or a persisted session
func loadCart(ctx context.Context, file, session, redisAddr string, rc config.RedisConfig) (*cart.Store, func(), error) {
	if session != "" {
		if redisAddr == "" {
			redisAddr = rc.Addr
		}
		client, err := redisclient.NewClient(redisAddr, rc.Password, rc.DB)
		if err != nil {
			return nil, nil, err
		}
		c := cart.New(cart.WithPersister(client, session))
		if err := c.Restore(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return c, func() { client.Close() }, nil
	}

	if file == "" {
		return nil, nil, errors.New("one of -cart or -session is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, err
	}

	var lines []cart.Line
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, nil, fmt.Errorf("invalid cart file: %w", err)
	}

	c := cart.New()
	for _, l := range lines {
		if l.Product.ID == "" {
			return nil, nil, fmt.Errorf("cart line %q has no product id", l.Product.Name)
		}
		c.AddItem(l.Product, l.Quantity)
	}
	return c, func() {}, nil
}

func printFields(fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", k, fields[k])
	}
}
