package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// SaveTreeManager updates the tree_manager section in the config file.
// This preserves comments and formatting in other sections by using yaml.Node.
func SaveTreeManager(configPath string, tm TreeManagerConfig) error {
	return saveSection(configPath, "tree_manager", buildTreeManagerNode(tm))
}

// SaveHF updates the hf section in the config file.
func SaveHF(configPath string, hf HFConfig) error {
	return saveSection(configPath, "hf", buildHFNode(hf))
}

// saveSection replaces or appends one top-level mapping key, preserving the
// rest of the document including its comments.
func saveSection(configPath, key string, sectionNode *yaml.Node) error {
	// Read existing file content
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	// Parse into yaml.Node to preserve comments
	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	if doc.Kind == 0 {
		// Empty or new file - create document structure
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						{Kind: yaml.ScalarNode, Value: key},
						sectionNode,
					},
				},
			},
		}
	} else if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind == yaml.MappingNode {
			// Find and replace the key, or append it
			found := false
			for i := 0; i < len(root.Content)-1; i += 2 {
				if root.Content[i].Value == key {
					root.Content[i+1] = sectionNode
					found = true
					break
				}
			}
			if !found {
				root.Content = append(root.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: key},
					sectionNode,
				)
			}
		}
	}

	// Marshal back to YAML
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	// Write atomically (write to temp, then rename)
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".arbor.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(buf.Bytes()); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, configPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func intScalar(value int) *yaml.Node {
	return scalar(strconv.Itoa(value))
}

func floatScalar(value float64) *yaml.Node {
	return scalar(strconv.FormatFloat(value, 'g', -1, 64))
}

func boolScalar(value bool) *yaml.Node {
	return scalar(strconv.FormatBool(value))
}

func stringsNode(values []string) *yaml.Node {
	node := &yaml.Node{
		Kind:    yaml.SequenceNode,
		Style:   yaml.FlowStyle,
		Content: make([]*yaml.Node, 0, len(values)),
	}
	for _, v := range values {
		node.Content = append(node.Content, scalar(v))
	}
	return node
}

// buildTreeManagerNode creates a yaml.Node for the tree_manager mapping.
func buildTreeManagerNode(tm TreeManagerConfig) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		node.Content = append(node.Content, scalar(key), value)
	}

	add("goal_tree_size", intScalar(tm.GoalTreeSize))
	add("max_active_trees", intScalar(tm.MaxActiveTrees))
	add("max_tree_depth", intScalar(tm.MaxTreeDepth))
	add("max_children_count", intScalar(tm.MaxChildrenCount))
	add("num_reviews_initial_prompt", intScalar(tm.NumReviewsInitialPrompt))
	add("num_reviews_reply", intScalar(tm.NumReviewsReply))
	add("acceptance_threshold_initial_prompt", floatScalar(tm.AcceptanceThresholdInitialPrompt))
	add("acceptance_threshold_reply", floatScalar(tm.AcceptanceThresholdReply))
	add("num_required_rankings", intScalar(tm.NumRequiredRankings))
	add("p_full_labeling_review_initial_prompt", floatScalar(tm.PFullLabelingReviewInitialPrompt))
	add("p_full_labeling_review_reply_assistant", floatScalar(tm.PFullLabelingReviewReplyAssistant))
	add("p_full_labeling_review_reply_prompter", floatScalar(tm.PFullLabelingReviewReplyPrompter))
	add("p_lonely_child_extension", floatScalar(tm.PLonelyChildExtension))
	add("lonely_children_count", intScalar(tm.LonelyChildrenCount))
	add("recent_tasks_span_sec", intScalar(tm.RecentTasksSpanSec))
	add("p_activate_backlog_tree", floatScalar(tm.PActivateBacklogTree))
	add("min_active_rankings_per_lang", intScalar(tm.MinActiveRankingsPerLang))
	add("rank_prompter_replies", boolScalar(tm.RankPrompterReplies))
	if len(tm.LabelsInitialPrompt) > 0 {
		add("labels_initial_prompt", stringsNode(tm.LabelsInitialPrompt))
	}
	if len(tm.LabelsAssistantReply) > 0 {
		add("labels_assistant_reply", stringsNode(tm.LabelsAssistantReply))
	}
	if len(tm.LabelsPrompterReply) > 0 {
		add("labels_prompter_reply", stringsNode(tm.LabelsPrompterReply))
	}
	if len(tm.MandatoryLabelsInitialPrompt) > 0 {
		add("mandatory_labels_initial_prompt", stringsNode(tm.MandatoryLabelsInitialPrompt))
	}
	if len(tm.MandatoryLabelsAssistantReply) > 0 {
		add("mandatory_labels_assistant_reply", stringsNode(tm.MandatoryLabelsAssistantReply))
	}
	if len(tm.MandatoryLabelsPrompterReply) > 0 {
		add("mandatory_labels_prompter_reply", stringsNode(tm.MandatoryLabelsPrompterReply))
	}
	return node
}

// buildHFNode creates a yaml.Node for the hf mapping. The api_key is written
// only when set so a missing key keeps coming from the environment.
func buildHFNode(hf HFConfig) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		node.Content = append(node.Content, scalar(key), value)
	}

	add("feature_extraction_url", scalar(hf.FeatureExtractionURL))
	add("toxicity_url", scalar(hf.ToxicityURL))
	if hf.APIKey != "" {
		add("api_key", scalar(hf.APIKey))
	}
	add("timeout_sec", intScalar(hf.TimeoutSec))
	add("cache_ttl_sec", intScalar(hf.CacheTTLSec))
	return node
}
