package main

// fallbackTag is used when no approved tag survives filtering.
const fallbackTag = "other"

// queryTag marks general informational requests; rows carrying it fan out
// into query subcategories during rollups.
const queryTag = "query"

// generalSubcategory is the query subcategory bucket for rows with no
// co-occurring topical tag.
const generalSubcategory = "general"

// approvedTags is the fixed tag vocabulary. Order matters: rollup reports
// list tags in this order.
var approvedTags = []string{
	"billing_issue",
	"refund_request",
	"delivery_delay",
	"damaged_item",
	"account_access",
	"technical_problem",
	"product_question",
	"cancellation",
	"complaint",
	"feedback",
	queryTag,
	fallbackTag,
}

// topicalTags are the tags eligible to co-occur with "query" when building
// subcategory rollups.
var topicalTags = []string{
	"billing_issue",
	"refund_request",
	"delivery_delay",
	"damaged_item",
	"account_access",
	"technical_problem",
	"product_question",
	"cancellation",
}

var approvedTagSet = makeTagSet(approvedTags)
var topicalTagSet = makeTagSet(topicalTags)

func makeTagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, tag := range tags {
		set[tag] = true
	}
	return set
}
