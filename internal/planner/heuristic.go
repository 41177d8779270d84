// Package planner turns a master question into a plan of tool calls.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "planner")

const placeholderID = "123456789"

var (
	adsWords            = []string{"google ads", "googleads", "ads", "campaign", "ad group", "customer"}
	createCampaignWords = []string{"create campaign", "new campaign", "add campaign", "start campaign", "campaign for customer"}
	createCustomerWords = []string{"create customer", "new customer", "add customer", "customer account"}
	removeCampaignWords = []string{"remove campaign", "delete campaign", "stop campaign", "end campaign"}
	getCampaignWords    = []string{"show campaign", "get campaign", "campaign details", "list campaigns"}
	addAdGroupWords     = []string{"add ad group", "create ad group", "new ad group"}
	updateCampaignWords = []string{"update campaign", "modify campaign", "change campaign", "edit campaign"}

	postWords    = []string{"twitter", " on x", " on twitter", "tweet", "create post", "create a post", "post on x", "post on twitter"}
	xUserWords   = []string{"twitter", " on x", " on twitter", "tweets", "tweet", " x ", " x:", "@", "x user", "twitter user", "user details", "user info"}
	tiktokWords  = []string{"tiktok", "tik tok", "tt video", "tiktok video", "tiktok post", "tiktok search"}
	integralWord = []string{"integral", "integrate", "area under"}

	reCustomer     = regexp.MustCompile(`(?:for customer|customer)\s+(\d+)`)
	reFromCustomer = regexp.MustCompile(`(?:from customer|customer)\s+(\d+)`)
	reCustomerID   = regexp.MustCompile(`\d{9,}`)
	reCountry      = regexp.MustCompile(`(?i)(?:for|in|account for)\s+([A-Za-z\s]+?)(?:\s|$)`)
	reCampaignID   = regexp.MustCompile(`campaign[_\s](\d+)`)
	reAdGroup      = regexp.MustCompile(`(?i)(?:ad group|adgroup)\s+([A-Za-z\s]+?)(?:\s+to|\s+in)`)
	reUpdateField  = regexp.MustCompile(`(?i)(?:update|modify|change|edit)\s+(\w+)`)
	reUpdateValue  = regexp.MustCompile(`(?i)(?:to|as)\s+([A-Za-z0-9\s]+?)(?:\s|$)`)

	reDefinite   = regexp.MustCompile(`(?i)integrate\s+(.+?)\s+from\s+([^\s]+)\s+to\s+([^\s]+)`)
	reIndefinite = regexp.MustCompile(`(?i)integrate\s+(.+)$`)

	rePost       = regexp.MustCompile(`(?i)post\s+(.+)$`)
	rePostPrefix = regexp.MustCompile(`(?i)create\s+(a\s+)?(twitter|x)\s+post\s*`)
	reMention    = regexp.MustCompile(`@([A-Za-z0-9_]{1,15})`)
	reUsername   = regexp.MustCompile(`(?i)username\s+([A-Za-z0-9_]{1,15})`)

	reVideoID    = regexp.MustCompile(`([A-Za-z0-9_-]{8,})`)
	reVideoFile  = regexp.MustCompile(`([a-zA-Z]:\\[^\n\r]+?\.(mp4|mov|mkv|avi))`)
	reVideoTitle = regexp.MustCompile(`(?i)(?:named|title is|title)\s+"?([^"\n\r]+?)(?:\s+file\s+path|\s+in\s+youtube|$)`)

	reNumber       = regexp.MustCompile(`-?\b\d+(?:\.\d+)?\b`)
	reSubtractFrom = regexp.MustCompile(`(?i)\bsubtract\s+(-?\d+(?:\.\d+)?)\s+from\s+(-?\d+(?:\.\d+)?)`)
	reInfixOp      = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([-+*/])\s*(-?\d+(?:\.\d+)?)`)
	arithmeticOp   = []struct {
		tool string
		re   *regexp.Regexp
	}{
		{"add", regexp.MustCompile(`\b(?:plus|add|sum)\b`)},
		{"subtract", regexp.MustCompile(`\b(?:minus|subtract)\b`)},
		{"multiply", regexp.MustCompile(`\b(?:times|multiply|multiplied|product)\b`)},
		{"divide", regexp.MustCompile(`\b(?:divided|divide|over)\b`)},
	}
	infixTool = map[string]string{"+": "add", "-": "subtract", "*": "multiply", "/": "divide"}
)

// Heuristic plans from keywords and regular expressions alone. It never
// calls a model and never returns an empty plan for a non-empty graph.
type Heuristic struct{}

// NewHeuristic returns the keyword planner.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

type heuristicRun struct {
	ctx      context.Context
	question string
	q        string
	graph    *orchestrator.CapabilityGraph
	steps    []orchestrator.PlanStep
}

func (r *heuristicRun) add(key, intent string, hint map[string]any) {
	if hint == nil {
		hint = map[string]any{}
	}
	r.steps = append(r.steps, orchestrator.PlanStep{
		ID:       fmt.Sprintf("step_%d", len(r.steps)+1),
		Intent:   intent,
		ToolKey:  key,
		ArgsHint: hint,
	})
	logger.ContextKV(r.ctx, xlog.INFO, "status", "heuristic_selected", "tool", key, "hint", hint)
}

// addIfPresent adds key when the graph has it.
func (r *heuristicRun) addIfPresent(key, intent string, hint map[string]any) bool {
	if !r.graph.HasTool(key) {
		return false
	}
	r.add(key, intent, hint)
	return true
}

// addFirstMatch adds the first tool in graph order whose key contains a
// hint, or any tool at all when a hint literally appears in the question.
func (r *heuristicRun) addFirstMatch(hints []string, args map[string]any) {
	for _, spec := range r.graph.ToolList() {
		hay := strings.ToLower(spec.Key())
		for _, h := range hints {
			if strings.Contains(hay, h) || strings.Contains(r.q, h) {
				hint := make(map[string]any, len(args))
				for k, v := range args {
					hint[k] = v
				}
				r.add(spec.Key(), spec.ToolName+" for "+r.question, hint)
				return
			}
		}
	}
}

func (r *heuristicRun) mentions(words ...string) bool {
	return containsAny(r.q, words)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func submatch(re *regexp.Regexp, s string, def string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return def
}

// Plan implements orchestrator.Planner.
func (h *Heuristic) Plan(ctx context.Context, question string, graph *orchestrator.CapabilityGraph) (*orchestrator.Plan, error) {
	r := &heuristicRun{ctx: ctx, question: question, q: strings.ToLower(question), graph: graph}
	if graph.IsEmpty() {
		return &orchestrator.Plan{}, nil
	}

	if r.adsPriority() {
		return &orchestrator.Plan{Steps: r.steps}, nil
	}

	if r.mentions(integralWord...) {
		hints := integralHints(question)
		if _, definite := hints["lower"]; definite {
			r.addFirstMatch([]string{"integration.integrate_definite"}, hints)
		} else {
			r.addFirstMatch([]string{"integration.integrate_indefinite", "integrate_indefinite"}, hints)
		}
	}
	if r.mentions("derivative", "differentiate", "slope") {
		r.addFirstMatch([]string{"differentiation.derivative"}, nil)
	}
	if r.mentions("probability", "bayes", "conditional") {
		r.addFirstMatch([]string{"probability."}, nil)
	}
	if r.mentions("venn") {
		r.addFirstMatch([]string{"venn."}, nil)
	}
	if r.mentions("grammar", "proofread") {
		r.addFirstMatch([]string{"grammar.check_grammar"}, nil)
	}
	if r.mentions("translate", "english") {
		r.addFirstMatch([]string{"translate."}, nil)
	}
	r.arithmetic()

	r.xPost()
	r.xUser()
	r.tiktok()
	r.youtube()
	r.ads()

	if len(r.steps) == 0 {
		first := graph.ToolList()[0]
		r.steps = append(r.steps, orchestrator.PlanStep{
			ID:      "step_1",
			Intent:  first.ToolName + " for " + question,
			ToolKey: first.Key(),
		})
		logger.ContextKV(ctx, xlog.INFO, "status", "heuristic_fallback", "tool", first.Key())
	}
	return &orchestrator.Plan{Steps: r.steps}, nil
}

// adsPriority handles the two Google Ads intents that must win over every
// other rule. It reports whether it produced the plan.
func (r *heuristicRun) adsPriority() bool {
	if !r.mentions(adsWords...) {
		return false
	}
	if r.mentions(createCampaignWords...) && r.mentions("customer", "for customer") {
		if m := reCustomer.FindStringSubmatch(r.question); m != nil {
			if r.addIfPresent("google_ads.add_campaign", "create campaign for customer "+m[1], map[string]any{"a": m[1]}) {
				return true
			}
		}
	}
	if hint, ok := r.createCustomerHint(); ok {
		if r.addIfPresent("google_ads.create_customer", "create customer account for "+r.question, hint) {
			return true
		}
	}
	return false
}

func (r *heuristicRun) createCustomerHint() (map[string]any, bool) {
	if !r.mentions(createCustomerWords...) || r.mentions("campaign", "ad group") {
		return nil, false
	}
	if reCustomerID.MatchString(r.question) {
		return nil, false
	}
	return map[string]any{"a": submatch(reCountry, r.question, "United States")}, true
}

// arithmetic only fires when no domain rule matched, so numbers inside
// integrands or derivatives never become a separate step.
func (r *heuristicRun) arithmetic() {
	if len(r.steps) > 0 || r.mentions(adsWords...) {
		return
	}
	if m := reSubtractFrom.FindStringSubmatch(r.question); m != nil {
		r.addArithmetic("subtract", m[2], m[1])
		return
	}
	if m := reInfixOp.FindStringSubmatch(r.question); m != nil {
		r.addArithmetic(infixTool[m[2]], m[1], m[3])
		return
	}
	nums := reNumber.FindAllString(r.question, 2)
	if len(nums) < 2 {
		return
	}
	for _, op := range arithmeticOp {
		if op.re.MatchString(r.q) {
			r.addArithmetic(op.tool, nums[0], nums[1])
			return
		}
	}
}

func (r *heuristicRun) addArithmetic(tool, a, b string) {
	hint := map[string]any{}
	if f, err := strconv.ParseFloat(a, 64); err == nil {
		hint["a"] = f
	}
	if f, err := strconv.ParseFloat(b, 64); err == nil {
		hint["b"] = f
	}
	r.addFirstMatch([]string{"arithmetic." + tool}, hint)
}

func integralHints(question string) map[string]any {
	q := strings.TrimSpace(question)
	if m := reDefinite.FindStringSubmatch(q); m != nil {
		expr := strings.TrimSpace(m[1])
		variable := "x"
		switch {
		case strings.Contains(expr, "x"):
		case strings.Contains(expr, "t"):
			variable = "t"
		case strings.Contains(expr, "y"):
			variable = "y"
		}
		return map[string]any{
			"expression": expr,
			"variable":   variable,
			"lower":      strings.TrimSpace(m[2]),
			"upper":      strings.TrimSpace(m[3]),
		}
	}
	expr := submatch(reIndefinite, q, "x")
	variable := "x"
	if !strings.Contains(expr, "x") && strings.Contains(expr, "t") {
		variable = "t"
	}
	return map[string]any{"expression": expr, "variable": variable}
}

func (r *heuristicRun) xPost() {
	if len(r.steps) > 0 || !r.mentions(postWords...) {
		return
	}
	text := submatch(rePost, strings.TrimSpace(r.question), "")
	if text == "" {
		text = strings.TrimSpace(rePostPrefix.ReplaceAllString(r.question, ""))
	}
	hint := map[string]any{}
	if text != "" {
		hint["a"] = text
	}
	r.addIfPresent("x.create_post", "create post for "+r.question, hint)
}

func (r *heuristicRun) xUser() {
	if len(r.steps) > 0 || !r.mentions(xUserWords...) {
		return
	}
	name := submatch(reMention, r.question, "")
	if name == "" {
		name = submatch(reUsername, r.question, "")
	}
	if name != "" && r.addIfPresent("x.get_user_by_username", "get user by username for "+r.question, map[string]any{"a": name}) {
		return
	}
	r.addIfPresent("x.get_my_user_info", "get user info for "+r.question, nil)
}

func (r *heuristicRun) tiktok() {
	if len(r.steps) > 0 || !r.mentions(tiktokWords...) {
		return
	}
	switch {
	case r.mentions("subtitle"):
		r.addFirstMatch([]string{"tiktok.tiktok_get_subtitle"}, nil)
	case r.mentions("detail", "info"):
		r.addFirstMatch([]string{"tiktok.tiktok_get_post_details"}, nil)
	default:
		r.addFirstMatch([]string{"tiktok.tiktok_search"}, nil)
	}
}

func (r *heuristicRun) youtube() {
	if len(r.steps) > 0 {
		return
	}
	if r.mentions("youtube", "video") && r.mentions("delete", "remove") {
		hint := map[string]any{}
		if id := submatch(reVideoID, r.question, ""); id != "" {
			hint["video_id"] = id
		}
		r.addIfPresent("youtube.remove_video", "remove video for "+r.question, hint)
		return
	}
	if r.mentions("upload") || reVideoFile.MatchString(r.question) {
		hint := map[string]any{}
		if file := submatch(reVideoFile, r.question, ""); file != "" {
			hint["file"] = file
		}
		if title := submatch(reVideoTitle, r.question, ""); title != "" {
			hint["title"] = title
		}
		r.addIfPresent("youtube.upload_video", "upload video for "+r.question, hint)
	}
}

func (r *heuristicRun) ads() {
	if len(r.steps) > 0 || !r.mentions(adsWords...) {
		return
	}
	q := r.question
	switch {
	case r.mentions(createCustomerWords...) && !r.mentions("campaign", "ad group"):
		if hint, ok := r.createCustomerHint(); ok {
			r.addIfPresent("google_ads.create_customer", "create customer account for "+q, hint)
		}
	case r.mentions(createCampaignWords...) && r.mentions("customer", "for customer"):
		if m := reCustomer.FindStringSubmatch(q); m != nil {
			r.addIfPresent("google_ads.add_campaign", "create campaign for customer "+m[1], map[string]any{"a": m[1]})
		}
	case r.mentions(removeCampaignWords...):
		r.addIfPresent("google_ads.remove_campaign", "remove campaign for "+q, map[string]any{
			"a": submatch(reFromCustomer, q, placeholderID),
			"b": submatch(reCampaignID, q, placeholderID),
		})
	case r.mentions(getCampaignWords...):
		r.addIfPresent("google_ads.get_campaign", "get campaign details for "+q, map[string]any{
			"a": submatch(reCustomer, q, placeholderID),
		})
	case r.mentions(addAdGroupWords...):
		r.addIfPresent("google_ads.add_ad_group", "add ad group for "+q, map[string]any{
			"a": submatch(reAdGroup, q, "New Ad Group"),
			"b": submatch(reCampaignID, q, placeholderID),
		})
	case r.mentions(updateCampaignWords...):
		r.addIfPresent("google_ads.update_campaign", "update campaign for "+q, map[string]any{
			"a": submatch(reCampaignID, q, placeholderID),
			"b": submatch(reUpdateField, q, "status"),
			"c": submatch(reUpdateValue, q, "paused"),
		})
	}
}
