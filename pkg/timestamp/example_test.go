package timestamp_test

import (
	"fmt"

	"github.com/JonathanMoss/OpenRailDataGateway/pkg/timestamp"
)

func ExampleParseHeader() {
	fmt.Println(timestamp.ParseHeader("1700000000123").Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Println(timestamp.ParseHeader("not a time").IsZero())
	// Output:
	// 2023-11-14T22:13:20.123Z
	// true
}
