package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"skoll/internal/common"
	skollNet "skoll/internal/net"
)

// priceDecimals fixes how many decimal places the wire's fixed-point
// price carries. Must match what every other client of the same market
// uses.
const priceDecimals = 4

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner identifier (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel']")

	// Order Parameters
	market := flag.String("market", "BASE/QUOTE", "Market symbol")
	sideStr := flag.String("side", "bid", "Order side: 'bid' or 'ask'")
	typeStr := flag.String("type", "limit", "Order type: 'limit', 'market', 'post-only', 'ioc' or 'fok'")
	priceStr := flag.String("price", "100.0", "Limit price (decimal)")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")
	tagStr := flag.String("tag", "", "Opaque settlement tag (max 32 bytes)")

	// Cancel Parameters
	idStr := flag.String("id", "", "Hex id of the order to cancel")

	flag.Parse()

	// Validation
	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn)

	side := common.Bid
	if strings.ToLower(*sideStr) == "ask" || strings.ToLower(*sideStr) == "sell" {
		side = common.Ask
	}

	orderType, err := parseOrderType(*typeStr)
	if err != nil {
		log.Fatal(err)
	}

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		price, err := parsePrice(*priceStr)
		if err != nil {
			log.Fatalf("Invalid price %q: %v", *priceStr, err)
		}
		quantities := parseQuantities(*qtyStr)
		for _, q := range quantities {
			msg := skollNet.NewOrderMessage{
				OrderType: orderType,
				Side:      side,
				Price:     price,
				Quantity:  q,
				Token:     uuid.New(),
				Tag:       common.TagFromString(*tagStr),
				Market:    *market,
				Owner:     *owner,
			}
			if _, err := conn.Write(msg.Serialize()); err != nil {
				log.Printf("Failed to place order (Qty: %d): %v", q, err)
			} else {
				fmt.Printf("-> Sent %s %s: %s %d @ %s [token %s]\n",
					orderType, side, *market, q, *priceStr, msg.Token)
			}
			// Small optional sleep so sequential reports stay readable
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *idStr == "" {
			log.Fatal("Error: -id is required for cancellation")
		}
		id, err := common.OrderIDFromString(*idStr)
		if err != nil {
			log.Fatalf("Invalid order id %q: %v", *idStr, err)
		}
		msg := skollNet.CancelOrderMessage{
			OrderID: id,
			Market:  *market,
			Owner:   *owner,
		}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Printf("Failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> Sent Cancel Request for id %s\n", id)
		}

	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	// Keep the client alive to receive execution reports
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

func parseOrderType(s string) (common.OrderType, error) {
	switch strings.ToLower(s) {
	case "limit":
		return common.Limit, nil
	case "market":
		return common.Market, nil
	case "post-only", "postonly":
		return common.PostOnly, nil
	case "ioc", "immediate-or-cancel":
		return common.ImmediateOrCancel, nil
	case "fok", "fill-or-kill":
		return common.FillOrKill, nil
	}
	return 0, fmt.Errorf("unknown order type %q", s)
}

// parsePrice converts a decimal price string to the wire's fixed-point
// representation.
func parsePrice(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	scaled := d.Shift(priceDecimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("more than %d decimal places", priceDecimals)
	}
	if scaled.IsNegative() {
		return 0, fmt.Errorf("price must be positive")
	}
	return uint64(scaled.IntPart()), nil
}

func formatPrice(p uint64) string {
	return decimal.New(int64(p), -priceDecimals).String()
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid quantity '%s', skipping.", p)
		}
	}
	return result
}

// readReports continuously reads and parses Report messages from the server
func readReports(conn net.Conn) {
	for {
		// 1. Read Fixed Header
		headerBuf := make([]byte, skollNet.ReportHeaderLen)
		if _, err := io.ReadFull(conn, headerBuf); err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}

		// 2. Read Variable Length Error String
		errStrLen := int(headerBuf[skollNet.ReportHeaderLen-2])<<8 |
			int(headerBuf[skollNet.ReportHeaderLen-1])
		full := headerBuf
		if errStrLen > 0 {
			varBuf := make([]byte, errStrLen)
			if _, err := io.ReadFull(conn, varBuf); err != nil {
				log.Printf("Error reading report body: %v", err)
				return
			}
			full = append(full, varBuf...)
		}

		report, err := skollNet.ParseReport(full)
		if err != nil {
			log.Printf("Error parsing report: %v", err)
			continue
		}

		// 3. Print Report
		if report.MessageType == skollNet.ErrorReport {
			fmt.Printf("\n[SERVER ERROR] %s\n", report.Err)
			continue
		}
		switch report.Event {
		case common.EventFill:
			fmt.Printf("\n[FILL] %s %d @ %s | remaining: %d | id: %s\n",
				strings.ToUpper(report.Side.String()), report.Quantity,
				formatPrice(report.Price), report.Remaining, report.OrderID)
		case common.EventRest:
			fmt.Printf("\n[RESTING] %s %d @ %s | id: %s\n",
				strings.ToUpper(report.Side.String()), report.Remaining,
				formatPrice(report.Price), report.OrderID)
		case common.EventCancel:
			fmt.Printf("\n[CANCELLED] id: %s | released: %d\n",
				report.OrderID, report.Remaining)
		case common.EventReject:
			fmt.Printf("\n[REJECTED] id: %s | reason: %s\n",
				report.OrderID, report.Reason)
		case common.EventDiscard:
			fmt.Printf("\n[DISCARDED] id: %s | unmatched: %d | reason: %s\n",
				report.OrderID, report.Remaining, report.Reason)
		}
	}
}
