package prompt

// ExampleQuestions are starting points shown to new users.
var ExampleQuestions = []string{
	"What are our top 5 best-selling products by revenue?",
	"What were our total sales and profits for the last 3 months?",
	"Which product categories have the highest profit margins?",
	"Who are our most loyal customers based on order frequency and total spend?",
	"Show me the seasonal sales patterns for different product categories.",
	"What products are frequently purchased together?",
}
