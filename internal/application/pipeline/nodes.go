package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/smilemakc/vyasa/internal/domain"
)

// Deps bundles the external collaborators every node function may call
// through. Concrete implementations are wired in cmd/server; tests supply
// fakes satisfying the same ports.
type Deps struct {
	Gateway   ExpertGateway
	Registry  PromptRegistry
	Vectors   VectorStore
	Graph     GraphStore
	Validator Validator
	Telemetry Telemetry
	Projects  domain.ProjectRepository

	TopKChunks    int
	MaxImages     int
	ContextBudget int
}

func (d *Deps) telemetry() Telemetry {
	if d.Telemetry == nil {
		return NoOpTelemetry{}
	}
	return d.Telemetry
}

// DefaultCartographerPrompt is the factory default used when the registry
// has no active "vyasa-cartographer" template.
const DefaultCartographerPrompt = "Extract subject-predicate-object triples grounded in the supplied document chunks. Respond with a JSON object {\"triples\": [...]}. Never invent a fact with no supporting chunk."

// DefaultCriticPrompt is the factory default for "vyasa-critic".
const DefaultCriticPrompt = "Review the extracted triples against the source context. Respond with a JSON object {\"status\": \"pass\"|\"fail\", \"critiques\": [...], \"synthesis\": \"...\"}."

// DefaultSynthesizerPrompt is the factory default for "vyasa-synthesizer".
const DefaultSynthesizerPrompt = "Draft manuscript prose strictly bound to the supplied claim ids via inline [[claim_id]] references. Do not introduce claims absent from the binding list."

var capitalizedSpanPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*\b`)

// CandidateEntities extracts capitalized multi-word spans from text, capped
// at 20, in order of first appearance and deduplicated (spec §4.4 step 2).
func CandidateEntities(text string) []string {
	matches := capitalizedSpanPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
		if len(out) == 20 {
			break
		}
	}
	return out
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// hydrateProjectContext loads state.ProjectContext from the project
// repository when absent, raising a terminal error on project-not-found
// (spec §4.4 step 1).
func hydrateProjectContext(ctx context.Context, deps *Deps, state domain.WorkflowState) (*domain.ProjectContext, error) {
	if state.ProjectContext != nil {
		return state.ProjectContext, nil
	}
	if deps.Projects == nil {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, "project not found while hydrating context", nil)
	}
	project, err := deps.Projects.Get(ctx, state.ProjectID)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, "project not found while hydrating context", err)
	}
	projCtx := domain.ContextFrom(project)
	return &projCtx, nil
}

// Cartographer implements the Cartographer node (spec §4.4).
func Cartographer(ctx context.Context, deps *Deps, state domain.WorkflowState) (domain.StateUpdate, error) {
	phase := domain.PhaseMapping
	update := domain.StateUpdate{Phase: &phase}

	projCtx, err := hydrateProjectContext(ctx, deps, state)
	if err != nil {
		return update, err
	}
	update.ProjectContext = projCtx

	entities := CandidateEntities(state.RawText)

	assembled := AssembledContext{}
	var conflictFlags []string

	var candidateFacts, canonicalFacts []CandidateFact
	if state.ForceRefreshContext && len(state.ReferenceIDs) > 0 && deps.Graph != nil {
		candidateFacts, _ = deps.Graph.ReferencedFacts(ctx, state.ReferenceIDs)
	}
	if deps.Graph != nil {
		canonicalFacts, _ = deps.Graph.CanonicalFacts(ctx, projCtx.ProjectID.String(), entities)
	}

	candidateIdx := make(map[string]string, len(candidateFacts))
	for _, f := range candidateFacts {
		candidateIdx[normalizeKey(f.Subject)+"|"+normalizeKey(f.Predicate)] = normalizeKey(f.Object)
	}
	var keptCanonical []CandidateFact
	for _, f := range canonicalFacts {
		key := normalizeKey(f.Subject) + "|" + normalizeKey(f.Predicate)
		if obj, ok := candidateIdx[key]; ok && obj != normalizeKey(f.Object) {
			conflictFlags = append(conflictFlags, fmt.Sprintf("candidate/canonical conflict on %s: candidate=%q canonical=%q", key, obj, f.Object))
			continue
		}
		keptCanonical = append(keptCanonical, f)
	}
	assembled.CandidateFacts = formatFacts(candidateFacts)
	assembled.CanonicalFacts = formatFacts(keptCanonical)

	var chunks []ChunkMatch
	if deps.Vectors != nil {
		k := deps.TopKChunks
		if k <= 0 {
			k = 5
		}
		for _, rq := range projCtx.ResearchQuestions {
			matches, err := deps.Vectors.TopKByResearchQuestion(ctx, projCtx.ProjectID.String(), state.IngestionID, rq, k)
			if err != nil {
				continue
			}
			chunks = append(chunks, matches...)
		}
	}
	var chunkTexts []string
	for _, c := range chunks {
		chunkTexts = append(chunkTexts, c.Text)
	}
	assembled.DocumentChunks = strings.Join(chunkTexts, "\n---\n")

	if deps.ContextBudget > 0 {
		assembled = TrimToBudget(assembled, deps.ContextBudget)
	}

	if len(conflictFlags) > 0 {
		update.ConflictFlags = conflictFlags
	}

	basePrompt := DefaultCartographerPrompt
	promptUse := domain.PromptUse{Name: "vyasa-cartographer", Source: domain.PromptSourceDefault}
	if deps.Registry != nil {
		if fetched, use, err := deps.Registry.Fetch(ctx, "vyasa-cartographer", "", DefaultCartographerPrompt); err == nil {
			basePrompt = fetched
			promptUse = use
		}
	}
	update.PromptManifestEntries = map[domain.PipelineNodeName]domain.PromptUse{domain.NodeCartographer: promptUse}

	layered := strings.Join(nonEmpty(assembled.CandidateFacts, assembled.CanonicalFacts, assembled.DocumentChunks), "\n\n")
	prompt := WrapPromptWithContext(projCtx, basePrompt+"\n\n"+layered)

	extractedJSON := `{"triples": []}`
	if deps.Gateway != nil {
		resp, err := deps.Gateway.Chat(ctx, ChatRequest{
			Expert:       domain.ExpertExtractionSchema,
			SystemPrompt: prompt,
			UserPrompt:   state.RawText,
			JSONResponse: true,
		})
		if err == nil {
			extractedJSON = resp.Content
		}
	}

	triples, parseErr := parseExtractedTriples(extractedJSON)
	if parseErr != nil {
		triples = nil
	}

	conservative := projCtx.RigorLevel == domain.RigorConservative
	normalized := make([]domain.Claim, 0, len(triples))
	var warnings []string
	for _, t := range triples {
		claim := t.toClaim(state.DocHash, chunks)
		if claim.ClaimID == "" {
			claim.ClaimID = domain.DeterministicClaimID(claim.Subject, claim.Predicate, claim.Object, state.DocHash, claim.SourceAnchor.PageNumber)
		}
		claim.ProjectID = projCtx.ProjectID.String()

		if claim.SourceAnchor.DocID == "" || len(claim.RQHits) == 0 {
			if conservative {
				return update, domain.NewDomainError(domain.ErrCodeEvidenceMissing, "extracted triple missing source anchor or rq_hits under conservative rigor", nil)
			}
			warnings = append(warnings, "triple "+claim.ClaimID+" missing source anchor or rq_hits")
		}
		normalized = append(normalized, claim)
	}
	update.AddTriples = normalized
	if len(warnings) > 0 {
		update.AddMessages = warnings
	}

	deps.telemetry().Emit("node.cartographer.completed", map[string]any{"triples": len(normalized), "conflict_flags": len(conflictFlags)})

	return update, nil
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatFacts(facts []CandidateFact) string {
	if len(facts) == 0 {
		return ""
	}
	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("%s %s %s", f.Subject, f.Predicate, f.Object))
	}
	return strings.Join(lines, "\n")
}

type extractedTriple struct {
	Subject       string   `json:"subject"`
	Predicate     string   `json:"predicate"`
	Object        string   `json:"object"`
	Confidence    float64  `json:"confidence"`
	ClaimText     string   `json:"claim_text"`
	RQHits        []string `json:"rq_hits"`
	SourcePointer string   `json:"source_pointer"`
	ClaimID       string   `json:"claim_id"`
}

func (t extractedTriple) toClaim(docHash string, chunks []ChunkMatch) domain.Claim {
	claim := domain.Claim{
		ClaimID:    t.ClaimID,
		Subject:    t.Subject,
		Predicate:  t.Predicate,
		Object:     t.Object,
		Confidence: t.Confidence,
		ClaimText:  t.ClaimText,
		RQHits:     t.RQHits,
	}
	for _, c := range chunks {
		if c.ChunkID == t.SourcePointer {
			claim.SourceAnchor = c.Anchor
			if len(claim.RQHits) == 0 && c.RQHit != "" {
				claim.RQHits = []string{c.RQHit}
			}
			return claim
		}
	}
	if docHash != "" {
		claim.SourceAnchor = domain.SourceAnchor{DocID: docHash}
	}
	return claim
}

type extractionEnvelope struct {
	Triples []extractedTriple `json:"triples"`
}

func parseExtractedTriples(raw string) ([]extractedTriple, error) {
	var env extractionEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, err
	}
	return env.Triples, nil
}

// visionExtraction is the structured response the Vision expert returns for
// one image.
type visionExtraction struct {
	FigureLabel string `json:"figure_label"`
	Caption     string `json:"caption"`
	Facts       []struct {
		Key        string  `json:"key"`
		Value      string  `json:"value"`
		Unit       string  `json:"unit"`
		Confidence float64 `json:"confidence"`
	} `json:"facts"`
	TableRows [][]string `json:"table_rows"`
}

// Vision implements the conditional Vision node (spec §4.4): selects up to
// max_images, preferring figure/table/chart/diagram-named or large files,
// deterministically composes a "Vision Extracts" block per image, and
// copies selected images into a per-project artifacts directory.
func Vision(ctx context.Context, deps *Deps, state domain.WorkflowState, artifactsDir string) (domain.StateUpdate, error) {
	update := domain.StateUpdate{}
	if len(state.ImagePaths) == 0 || deps.Gateway == nil {
		return update, nil
	}

	maxImages := deps.MaxImages
	if maxImages <= 0 {
		maxImages = 5
	}
	selected := selectImages(state.ImagePaths, maxImages)

	var blocks []string
	var artifacts []string
	for _, path := range selected {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		resp, err := deps.Gateway.Chat(ctx, ChatRequest{
			Expert:       domain.ExpertVision,
			JSONResponse: true,
			ImageB64:     base64.StdEncoding.EncodeToString(data),
		})
		if err != nil {
			continue
		}
		var ve visionExtraction
		if err := json.Unmarshal([]byte(resp.Content), &ve); err != nil {
			continue
		}
		blocks = append(blocks, composeVisionBlock(ve))

		if artifactsDir != "" {
			projectDir := filepath.Join(artifactsDir, state.ProjectID.String())
			dest := filepath.Join(projectDir, uuid.New().String()+filepath.Ext(path))
			if err := os.MkdirAll(projectDir, 0o755); err == nil && os.WriteFile(dest, data, 0o644) == nil {
				artifacts = append(artifacts, dest)
			}
		}
	}

	if len(blocks) > 0 {
		appended := state.RawText + "\n\n" + strings.Join(blocks, "\n\n")
		update.RawText = &appended
	}
	if len(artifacts) > 0 {
		update.AddArtifacts = artifacts
	}
	return update, nil
}

func selectImages(paths []string, max int) []string {
	type scored struct {
		path  string
		score int
	}
	candidates := make([]scored, 0, len(paths))
	for _, p := range paths {
		s := 0
		base := strings.ToLower(filepath.Base(p))
		for _, kw := range []string{"fig", "table", "chart", "diagram"} {
			if strings.Contains(base, kw) {
				s += 10
				break
			}
		}
		if info, err := os.Stat(p); err == nil && info.Size() > 500*1024 {
			s += 5
		}
		candidates = append(candidates, scored{p, s})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.path
	}
	return out
}

func composeVisionBlock(ve visionExtraction) string {
	var b strings.Builder
	b.WriteString("Vision Extracts")
	if ve.FigureLabel != "" {
		b.WriteString(" - " + ve.FigureLabel)
	}
	b.WriteString(":\n")
	if ve.Caption != "" {
		b.WriteString("Caption: " + ve.Caption + "\n")
	}
	for _, f := range ve.Facts {
		b.WriteString(fmt.Sprintf("%s %s %s (confidence=%s)\n", f.Key, f.Value, f.Unit, strconv.FormatFloat(f.Confidence, 'f', 2, 64)))
	}
	for _, row := range ve.TableRows {
		b.WriteString(strings.Join(row, " | ") + "\n")
	}
	return b.String()
}

// quickRatio approximates difflib's SequenceMatcher.quick_ratio(): an upper
// bound on similarity computed from the multiset intersection of
// characters, without the full O(n^2) matching-block search.
func quickRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	countA := make(map[rune]int)
	for _, r := range a {
		countA[r]++
	}
	matches := 0
	countB := make(map[rune]int)
	for _, r := range b {
		countB[r]++
	}
	for r, ca := range countA {
		if cb, ok := countB[r]; ok {
			if cb < ca {
				matches += cb
			} else {
				matches += ca
			}
		}
	}
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 1
	}
	return 2 * float64(matches) / float64(total)
}

func alphanumericRatio(s string) float64 {
	if s == "" {
		return 1
	}
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return float64(n) / float64(len([]rune(s)))
}

// isQuantizationGarbled implements the FP4 garble detector (spec §4.4
// step 1): repetitive-token runs, low alphanumeric ratio, or an excess of
// special characters all indicate a quantization failure in the upstream
// extraction text.
func isQuantizationGarbled(text string) bool {
	if len(text) < 10 {
		return false
	}
	stripped := strings.TrimLeft(text, " \t\n\r")
	if strings.HasPrefix(stripped, "{") || strings.HasPrefix(stripped, "[") {
		return false
	}
	words := strings.Fields(text)
	for i := 0; i+2 < len(words); i++ {
		if words[i] == words[i+1] && words[i+1] == words[i+2] {
			return true
		}
	}
	if alphanumericRatio(text) < 0.3 {
		return true
	}
	special := 0
	total := 0
	for _, r := range text {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	if total > 0 && float64(special)/float64(total) > 0.5 {
		return true
	}
	return false
}

// criticVerdict is the structured response the Brain expert returns during
// critic adjudication.
type criticVerdict struct {
	Status     string   `json:"status"`
	Critiques  []string `json:"critiques"`
	Synthesis  string   `json:"synthesis"`
}

// Critic implements the Critic node (spec §4.4). conservative is passed
// explicitly rather than read from ProjectContext; the graph store lookup of
// existing claims uses state.ProjectID and state.IngestionID.
func Critic(ctx context.Context, deps *Deps, state domain.WorkflowState, conservative bool) (domain.StateUpdate, error) {
	phase := domain.PhaseVetting
	update := domain.StateUpdate{Phase: &phase}

	extractedJSON, _ := json.Marshal(state.Triples)
	if isQuantizationGarbled(string(extractedJSON)) {
		status := domain.CriticStatusFail
		rc := state.RevisionCount + 1
		update.CriticStatus = &status
		update.RevisionCountSet = &rc
		update.AddCritiques = []string{"Extraction appears garbled or contains repetitive tokens (possible FP4 quantization failure)"}
		return update, nil
	}

	var hardFailures []string
	for _, claim := range state.Triples {
		if defects := claim.ValidateEvidence(); len(defects) > 0 {
			hardFailures = append(hardFailures, claim.ClaimID+": "+strings.Join(defects, "; "))
			continue
		}
		if claim.ProjectID == "" {
			hardFailures = append(hardFailures, claim.ClaimID+": missing project_id")
		}
		if claim.SourceAnchor.Snippet != "" && deps.Graph != nil {
			text, _, err := deps.Graph.PageText(ctx, claim.SourceAnchor.DocID, claim.SourceAnchor.PageNumber)
			if err == nil && text != "" {
				if quickRatio(claim.SourceAnchor.Snippet, text) <= 0.6 {
					hardFailures = append(hardFailures, claim.ClaimID+": snippet does not match cached page text")
				}
			}
		}
	}

	var existing []domain.Claim
	if deps.Graph != nil {
		existing, _ = deps.Graph.ExistingClaims(ctx, state.ProjectID.String(), state.IngestionID)
	}
	conflictItems := detectContradictions(
		append(append([]domain.Claim(nil), existing...), state.Triples...),
		len(state.ConflictFlags) > 0,
		state.RevisionCount,
	)

	needsHumanReview := conservative && len(conflictItems) >= 3
	if needsHumanReview {
		t := true
		update.NeedsHumanReview = &t
	}

	if action, err := backpressure(ctx, deps); err == nil && action == domain.BackpressureRetryLater {
		status := domain.CriticStatus("retry_later")
		update.CriticStatus = &status
		return update, nil
	}

	synthesisPrompt := DefaultCriticPrompt
	promptUse := domain.PromptUse{Name: "vyasa-critic", Source: domain.PromptSourceDefault}
	if deps.Registry != nil {
		if fetched, use, err := deps.Registry.Fetch(ctx, "vyasa-critic", "", DefaultCriticPrompt); err == nil {
			synthesisPrompt = fetched
			promptUse = use
		}
	}
	update.PromptManifestEntries = map[domain.PipelineNodeName]domain.PromptUse{domain.NodeCritic: promptUse}

	verdict := criticVerdict{Status: "fail"}
	if deps.Gateway != nil {
		resp, err := deps.Gateway.Chat(ctx, ChatRequest{
			Expert:       domain.ExpertLogicReasoning,
			SystemPrompt: synthesisPrompt,
			UserPrompt:   string(extractedJSON),
			JSONResponse: true,
			AllowedTools: []string{"evaluate_math"},
		})
		if err == nil {
			_ = json.Unmarshal([]byte(resp.Content), &verdict)
		}
	}

	var critiques []string
	forcedFail := len(hardFailures) > 0
	critiques = append(critiques, hardFailures...)

	if verdict.Synthesis != "" && deps.Validator != nil {
		if forbidden := deps.Validator.ScanForbidden(verdict.Synthesis); len(forbidden) > 0 {
			forcedFail = true
			critiques = append(critiques, "synthesis contains forbidden vocabulary: "+strings.Join(forbidden, ", "))
		}
	}
	if isQuantizationGarbled(verdict.Synthesis) {
		forcedFail = true
		critiques = append(critiques, "Brain response appears garbled (possible quantization failure)")
	}

	var report *domain.ConflictReport
	if len(conflictItems) > 0 || len(state.ConflictFlags) > 0 {
		forcedFail = true
		critiques = append(critiques, "deterministic conflict detection found contradicting claims")
		r := domain.NewConflictReport(state.ProjectID, state.JobID, state.DocHash, state.RevisionCount, domain.CriticStatusFail, conflictItems)
		report = &r
	}

	status := domain.CriticStatusPass
	if forcedFail || strings.EqualFold(verdict.Status, "fail") {
		status = domain.CriticStatusFail
		rc := state.RevisionCount + 1
		update.RevisionCountSet = &rc
	}
	update.CriticStatus = &status
	if len(verdict.Critiques) > 0 {
		critiques = append(critiques, verdict.Critiques...)
	}
	if len(critiques) > 0 {
		update.AddCritiques = critiques
	}
	if report != nil {
		update.ConflictReport = report
		update.ConflictReportID = &report.ReportID
	}

	deps.telemetry().Emit("node.critic.completed", map[string]any{"status": string(status), "conflicts": len(conflictItems)})

	return update, nil
}

func backpressure(ctx context.Context, deps *Deps) (domain.BackpressureAction, error) {
	if deps.Gateway == nil {
		return domain.BackpressureProceed, nil
	}
	return deps.Gateway.Backpressure(ctx, domain.ExpertLogicReasoning)
}

// detectContradictions indexes claims by normalized (subject, predicate) and
// emits a conflict item for every key with two or more distinct normalized
// objects (spec §4.4 step 3). Deterministic: no LLM narration, explanation
// built only from page numbers and claim text. Severity is HIGH on first
// sight and escalates to BLOCKER once the state carries Cartographer
// conflict flags and revision_count has reached 2, so a stuck extraction
// with a candidate/canonical conflict declares deadlock.
func detectContradictions(claims []domain.Claim, conflictPersisted bool, revisionCount int) []domain.ConflictItem {
	type bucket struct {
		objects map[string][]domain.Claim
	}
	buckets := make(map[string]*bucket)
	order := make([]string, 0)
	for _, c := range claims {
		key := normalizeKey(c.Subject) + "|" + normalizeKey(c.Predicate)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{objects: make(map[string][]domain.Claim)}
			buckets[key] = b
			order = append(order, key)
		}
		objKey := normalizeKey(c.Object)
		b.objects[objKey] = append(b.objects[objKey], c)
	}

	severity := domain.SeverityHigh
	if conflictPersisted && revisionCount >= 2 {
		severity = domain.SeverityBlocker
	}

	var items []domain.ConflictItem
	for _, key := range order {
		b := buckets[key]
		if len(b.objects) < 2 {
			continue
		}
		var ids []string
		var explanation []string
		for _, claimsForObject := range b.objects {
			for _, c := range claimsForObject {
				ids = append(ids, c.ClaimID)
				explanation = append(explanation, fmt.Sprintf("page %d: %q", c.SourceAnchor.PageNumber, c.ClaimText))
			}
		}
		sort.Strings(ids)
		sort.Strings(explanation)
		items = append(items, domain.ConflictItem{
			ItemID:                uuid.New().String(),
			Type:                  domain.ConflictItemStructural,
			Severity:              severity,
			Summary:               "contradicting claims for " + key,
			Details:               strings.Join(explanation, "; "),
			Producer:              domain.ProducerCritic,
			ContradictingClaimIDs: ids,
		})
	}
	return items
}

// Synthesizer implements the Synthesizer node (spec §4.4).
func Synthesizer(ctx context.Context, deps *Deps, state domain.WorkflowState, projCtx *domain.ProjectContext) (domain.StateUpdate, error) {
	phase := domain.PhaseSynthesizing
	update := domain.StateUpdate{Phase: &phase}

	conservative := projCtx != nil && projCtx.RigorLevel == domain.RigorConservative
	if conservative && state.NeedsHumanReview {
		t := true
		update.NeedsSignoff = &t
		return update, nil
	}

	basePrompt := DefaultSynthesizerPrompt
	promptUse := domain.PromptUse{Name: "vyasa-synthesizer", Source: domain.PromptSourceDefault}
	if deps.Registry != nil {
		if fetched, use, err := deps.Registry.Fetch(ctx, "vyasa-synthesizer", "", DefaultSynthesizerPrompt); err == nil {
			basePrompt = fetched
			promptUse = use
		}
	}
	update.PromptManifestEntries = map[domain.PipelineNodeName]domain.PromptUse{domain.NodeSynthesizer: promptUse}

	knownClaimIDs := make(map[string]bool, len(state.Triples))
	bindingIDs := make([]string, 0, 20)
	for _, c := range state.Triples {
		knownClaimIDs[c.ClaimID] = true
		if len(bindingIDs) < 20 {
			bindingIDs = append(bindingIDs, c.ClaimID)
		}
	}
	bindingInstruction := "\n\nAvailable claim ids (cite every assertion with [[claim_id]]): " + strings.Join(bindingIDs, ", ")
	prompt := WrapPromptWithContext(projCtx, basePrompt+bindingInstruction)

	proseJSON := "[]"
	if deps.Gateway != nil {
		resp, err := deps.Gateway.Chat(ctx, ChatRequest{
			Expert:       domain.ExpertProseWriting,
			SystemPrompt: prompt,
			UserPrompt:   synthesizerUserPrompt(state),
			JSONResponse: true,
		})
		if err == nil {
			proseJSON = resp.Content
		}
	}

	blocks, err := parseManuscriptBlocks(proseJSON, projCtx)
	if err != nil {
		blocks = nil
	}

	var accepted []domain.ManuscriptBlock
	for _, block := range blocks {
		if deps.Validator != nil {
			if ok, reason := deps.Validator.CitationIntegrity(block, knownClaimIDs, conservative); !ok {
				if conservative {
					return update, domain.NewDomainError(domain.ErrCodeCitationMissing, reason, nil)
				}
				update.AddMessages = append(update.AddMessages, "block "+block.BlockID+": "+reason)
			}
			if forbidden := deps.Validator.ScanForbidden(block.Content); len(forbidden) > 0 {
				block.Content = deps.Validator.Rewrite(block.Content)
			}
		}
		accepted = append(accepted, block)
	}
	update.AddManuscriptBlocks = accepted

	deps.telemetry().Emit("node.synthesizer.completed", map[string]any{"blocks": len(accepted)})

	return update, nil
}

func synthesizerUserPrompt(state domain.WorkflowState) string {
	var b strings.Builder
	for _, c := range state.Triples {
		b.WriteString(fmt.Sprintf("[%s] %s %s %s\n", c.ClaimID, c.Subject, c.Predicate, c.Object))
	}
	return b.String()
}

type synthesizedBlock struct {
	SectionTitle string   `json:"section_title"`
	Content      string   `json:"content"`
	ClaimIDs     []string `json:"claim_ids"`
	OrderIndex   int      `json:"order_index"`
}

func parseManuscriptBlocks(raw string, projCtx *domain.ProjectContext) ([]domain.ManuscriptBlock, error) {
	var parsed []synthesizedBlock
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, err
	}
	blocks := make([]domain.ManuscriptBlock, 0, len(parsed))
	projectID := ""
	if projCtx != nil {
		projectID = projCtx.ProjectID.String()
	}
	for i, p := range parsed {
		blocks = append(blocks, domain.ManuscriptBlock{
			BlockID:      uuid.New().String(),
			ProjectID:    projectID,
			SectionTitle: p.SectionTitle,
			Content:      p.Content,
			OrderIndex:   i,
			ClaimIDs:     p.ClaimIDs,
		})
	}
	return blocks, nil
}

// Saver implements the Saver node (spec §4.4): persists manuscript blocks
// with version numbers, validates citation keys against the bibliography
// (Librarian Key-Guard), and best-effort builds an artifact manifest.
func Saver(ctx context.Context, blocks domain.ManuscriptBlockRepository, bibliography domain.BibliographyRepository, projectID uuid.UUID, state domain.WorkflowState) (domain.StateUpdate, error) {
	phase := domain.PhaseDone
	update := domain.StateUpdate{Phase: &phase}

	var saved []domain.ManuscriptBlock
	for _, block := range state.ManuscriptBlocks {
		for _, key := range block.CitationKeys {
			if bibliography != nil {
				ok, err := bibliography.Exists(ctx, projectID, key)
				if err == nil && !ok {
					return update, domain.NewDomainError(domain.ErrCodeCitationMissing, "unknown bibliography key: "+key, nil)
				}
			}
		}
		if blocks != nil {
			version, err := blocks.NextVersion(ctx, block.BlockID, projectID)
			if err == nil {
				block.Version = version
			}
			if err := blocks.Save(ctx, &block); err != nil {
				return update, domain.NewDomainError(domain.ErrCodeInternal, "failed to persist manuscript block: "+block.BlockID, err)
			}
		}
		saved = append(saved, block)
	}

	manifest := buildArtifactManifest(saved)
	update.AddMessages = []string{"artifact_manifest: " + manifest}

	return update, nil
}

func buildArtifactManifest(blocks []domain.ManuscriptBlock) string {
	words, claims, citations, tables, figures := 0, 0, 0, 0, 0
	for _, b := range blocks {
		words += len(strings.Fields(b.Content))
		claims += len(b.Bindings())
		citations += len(b.CitationKeys)
		if strings.Contains(strings.ToLower(b.Content), "table") {
			tables++
		}
		if strings.Contains(strings.ToLower(b.Content), "figure") {
			figures++
		}
	}
	data, _ := json.Marshal(map[string]int{
		"words": words, "claims": claims, "citations": citations, "tables": tables, "figures": figures,
	})
	return string(data)
}

// Reframing implements the Reframing node (spec §4.4): a deterministic,
// non-LLM pivot proposal built from the conflict report.
func Reframing(state domain.WorkflowState) domain.ReframingProposal {
	report := state.ConflictReport
	var claimIDs []string
	if report != nil {
		for _, item := range report.ConflictItems {
			claimIDs = append(claimIDs, item.ContradictingClaimIDs...)
		}
	}
	proposal := domain.ReframingProposal{
		ProposalID:             uuid.New(),
		ProjectID:              state.ProjectID,
		JobID:                  state.JobID,
		DocHash:                state.DocHash,
		PivotType:              domain.PivotScope,
		ProposedPivot:          "Narrow scope to exclude the contradicting claim set and re-run extraction.",
		ArchitecturalRationale: "Revision budget exhausted with a blocking conflict; a scope pivot avoids an unbounded revise loop.",
		AssumptionsChanged:     []string{"affected claims are treated as out of scope pending human review"},
		WhatStaysTrue:          []string{"claims outside the contradicting set remain valid"},
		RequiresHumanSignoff:   true,
	}
	if report != nil {
		proposal.ConflictHash = report.ConflictHash
	}
	_ = claimIDs
	return proposal
}
